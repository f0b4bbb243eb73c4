package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// subjectPrefix namespaces lock events on the NATS side.
const subjectPrefix = "locks."

// NATSBus implements Bus on a NATS connection, so observers attached to
// any coordinator instance see transitions made through any other. Core
// NATS delivery is at-most-once, which matches the bus contract exactly.
type NATSBus struct {
	conn   *nats.Conn
	logger *zap.Logger

	mu   sync.Mutex
	subs map[<-chan model.Event]*natsSubscription
}

type natsSubscription struct {
	sub *nats.Subscription

	mu     sync.Mutex
	ch     chan model.Event
	closed bool
}

// deliver hands an event to the subscriber channel unless the
// subscription has already shut down. The per-subscription mutex keeps
// the send ordered against shutdown, since nats.Subscription.Unsubscribe
// does not wait for an in-flight callback.
func (s *natsSubscription) deliver(evt model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	default:
		// Subscriber is not keeping up; drop the event.
	}
}

// shutdown closes the subscriber channel exactly once.
func (s *natsSubscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// NewNATSBus connects to the NATS server at url.
func NewNATSBus(url string, logger *zap.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("appointment-lock"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("Notification bus connected", zap.String("url", url))

	return &NATSBus{
		conn:   conn,
		logger: logger,
		subs:   make(map[<-chan model.Event]*natsSubscription),
	}, nil
}

func subject(appointmentID string) string {
	return subjectPrefix + appointmentID
}

// Publish delivers the event to all current subscribers of the topic
// across every connected instance.
func (b *NATSBus) Publish(ctx context.Context, appointmentID string, evt model.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := b.conn.Publish(subject(appointmentID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers an observer for one appointment topic.
func (b *NATSBus) Subscribe(ctx context.Context, appointmentID string) (<-chan model.Event, error) {
	entry := &natsSubscription{
		ch: make(chan model.Event, subscriberBuffer),
	}

	sub, err := b.conn.Subscribe(subject(appointmentID), func(msg *nats.Msg) {
		var evt model.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn("Dropping undecodable event",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		entry.deliver(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	entry.sub = sub

	b.mu.Lock()
	b.subs[entry.ch] = entry
	b.mu.Unlock()

	return entry.ch, nil
}

// Unsubscribe removes the observer and closes its channel.
func (b *NATSBus) Unsubscribe(ctx context.Context, appointmentID string, ch <-chan model.Event) error {
	b.mu.Lock()
	entry, ok := b.subs[ch]
	if ok {
		delete(b.subs, ch)
	}
	b.mu.Unlock()

	if !ok {
		return ErrNotSubscribed
	}

	if err := entry.sub.Unsubscribe(); err != nil {
		b.logger.Warn("Failed to unsubscribe from nats", zap.Error(err))
	}
	entry.shutdown()
	return nil
}

// Close drains the connection, closing all subscriber channels.
func (b *NATSBus) Close(ctx context.Context) error {
	b.mu.Lock()
	for ch, entry := range b.subs {
		_ = entry.sub.Unsubscribe()
		entry.shutdown()
		delete(b.subs, ch)
	}
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

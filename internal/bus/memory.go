package bus

import (
	"context"
	"sync"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses events, which is within the at-most-once
// delivery contract.
const subscriberBuffer = 16

// MemoryBus is an in-process implementation of Bus for single-instance
// deployments and tests. Fan-out is a non-blocking send to each
// subscriber's buffered channel.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]chan model.Event
	closed bool
}

// NewMemoryBus returns an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]chan model.Event),
	}
}

// Publish delivers the event to all current subscribers of the topic.
// The sends happen under the bus mutex so Unsubscribe cannot close a
// channel mid-fan-out; they are non-blocking, so the lock is held only
// briefly.
func (b *MemoryBus) Publish(ctx context.Context, appointmentID string, evt model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[appointmentID] {
		select {
		case ch <- evt:
		default:
			// Subscriber is not keeping up; drop the event.
		}
	}
	return nil
}

// Subscribe registers an observer for one appointment topic.
func (b *MemoryBus) Subscribe(ctx context.Context, appointmentID string) (<-chan model.Event, error) {
	ch := make(chan model.Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, nil
	}
	b.subs[appointmentID] = append(b.subs[appointmentID], ch)
	return ch, nil
}

// Unsubscribe removes the observer and closes its channel.
func (b *MemoryBus) Unsubscribe(ctx context.Context, appointmentID string, ch <-chan model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[appointmentID]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			if len(subs) == 0 {
				delete(b.subs, appointmentID)
			} else {
				b.subs[appointmentID] = subs
			}
			return nil
		}
	}
	return ErrNotSubscribed
}

// Subscribers returns the current observer count for a topic.
func (b *MemoryBus) Subscribers(appointmentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs[appointmentID])
}

// Close shuts the bus down, closing all subscriber channels.
func (b *MemoryBus) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, topic)
	}
	return nil
}

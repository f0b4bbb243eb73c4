package bus

import (
	"context"
	"errors"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// ErrNotSubscribed is returned by Unsubscribe when the channel is not a
// current subscriber of the topic.
var ErrNotSubscribed = errors.New("channel not subscribed to topic")

// Bus fans lock-transition and cursor events out to the current observers
// of an appointment topic. Delivery is at-most-once with no persistence or
// replay: publishers must only be invoked after the corresponding store
// mutation has committed, and a reconnecting observer re-fetches status
// explicitly.
type Bus interface {
	// Publish delivers the event to all current subscribers of the
	// appointment topic.
	Publish(ctx context.Context, appointmentID string, evt model.Event) error

	// Subscribe registers an observer for one appointment topic and
	// returns the channel events arrive on.
	Subscribe(ctx context.Context, appointmentID string) (<-chan model.Event, error)

	// Unsubscribe removes the observer and closes its channel.
	Unsubscribe(ctx context.Context, appointmentID string, ch <-chan model.Event) error

	// Close shuts the bus down, closing all subscriber channels.
	Close(ctx context.Context) error
}

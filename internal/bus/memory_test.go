package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

func receive(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.Event{}
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	ch1, err := b.Subscribe(ctx, "appt-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	ch2, err := b.Subscribe(ctx, "appt-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	other, err := b.Subscribe(ctx, "appt-2")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	evt := model.Event{
		Type:          model.EventLockAcquired,
		AppointmentID: "appt-1",
		Timestamp:     time.Now(),
	}
	if err := b.Publish(ctx, "appt-1", evt); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, ch := range []<-chan model.Event{ch1, ch2} {
		got := receive(t, ch)
		if got.Type != model.EventLockAcquired {
			t.Errorf("Type = %q, want %q", got.Type, model.EventLockAcquired)
		}
		if got.AppointmentID != "appt-1" {
			t.Errorf("AppointmentID = %q, want appt-1", got.AppointmentID)
		}
	}

	select {
	case evt := <-other:
		t.Errorf("subscriber of another topic received %v", evt)
	default:
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, "appt-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := b.Subscribers("appt-1"); got != 1 {
		t.Errorf("Subscribers = %d, want 1", got)
	}

	if err := b.Unsubscribe(ctx, "appt-1", ch); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if got := b.Subscribers("appt-1"); got != 0 {
		t.Errorf("Subscribers = %d, want 0", got)
	}

	// Channel is closed after unsubscribe.
	if _, open := <-ch; open {
		t.Error("expected channel to be closed")
	}

	if err := b.Unsubscribe(ctx, "appt-1", ch); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestMemoryBusSlowSubscriberDropsEvents(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, "appt-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Overfill the subscriber buffer; publishes must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = b.Publish(ctx, "appt-1", model.Event{
				Type:          model.EventCursorPosition,
				AppointmentID: "appt-1",
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	delivered := 0
	for {
		select {
		case <-ch:
			delivered++
			continue
		default:
		}
		break
	}
	if delivered != subscriberBuffer {
		t.Errorf("delivered = %d, want buffer size %d", delivered, subscriberBuffer)
	}
}

func TestMemoryBusPublishDuringUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	// A watcher disconnecting while a lock transition fans out must not
	// hit a send on a freshly closed channel.
	channels := make([]<-chan model.Event, 0, 8)
	for i := 0; i < 8; i++ {
		ch, err := b.Subscribe(ctx, "appt-1")
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		channels = append(channels, ch)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = b.Publish(ctx, "appt-1", model.Event{
				Type:          model.EventLockReleased,
				AppointmentID: "appt-1",
			})
		}
	}()

	for _, ch := range channels {
		if err := b.Unsubscribe(ctx, "appt-1", ch); err != nil {
			t.Errorf("Unsubscribe failed: %v", err)
		}
	}
	wg.Wait()

	if got := b.Subscribers("appt-1"); got != 0 {
		t.Errorf("Subscribers = %d, want 0", got)
	}
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, "appt-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, open := <-ch; open {
		t.Error("expected channel to be closed after bus close")
	}

	// Subscribing after close yields a closed channel instead of leaking.
	late, err := b.Subscribe(ctx, "appt-1")
	if err != nil {
		t.Fatalf("Subscribe after close failed: %v", err)
	}
	if _, open := <-late; open {
		t.Error("expected closed channel from a closed bus")
	}
}

package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeScheduled, ID: 7})

	select {
	case e := <-ch:
		if e.Type != TypeScheduled || e.ID != 7 {
			t.Fatalf("got %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("Publish must stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeFired, ID: 1})
	b.Publish(Event{Type: TypeFired, ID: 2})

	e := <-ch
	if e.ID != 1 {
		t.Fatalf("first event ID = %d, want 1", e.ID)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %+v, buffer overflow must drop", e)
	default:
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic on a closed subscriber channel.
	b.Publish(Event{Type: TypeCanceled, ID: 3})
}

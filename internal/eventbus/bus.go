package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies a lifecycle transition of a notification.
type Type string

const (
	// TypeScheduled fires when a notification is accepted and armed.
	TypeScheduled Type = "scheduled"
	// TypeFired fires when a trigger instant is reached.
	TypeFired Type = "fired"
	// TypeDelivered fires when a sink accepts the notification.
	TypeDelivered Type = "delivered"
	// TypeCanceled fires when a pending notification is withdrawn.
	TypeCanceled Type = "canceled"
	// TypeRemoved fires when a delivered notification is dismissed.
	TypeRemoved Type = "removed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type Type
	Time time.Time

	// ID is the notification the event is about. Zero for bus-wide
	// events such as a cancel-all sweep.
	ID int32

	// Detail carries optional event-specific data (sink name on
	// delivered, error text on failed delivery). Keep it small.
	Detail string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

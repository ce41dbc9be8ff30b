package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal used to decouple the engine from its
// observers.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscriptions use buffered channels; slow subscribers drop events.
//   - Data holds one of the payload structs from internal/events and
//     must stay JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Emit(eventType string, data any)
	Subscribe(buffer int) *Subscription
}

// Subscription is a handle to a bus feed. Close is idempotent.
type Subscription struct {
	ch    chan Event
	close func()
}

func (s *Subscription) C() <-chan Event { return s.ch }
func (s *Subscription) Close()          { s.close() }

// New returns a simple in-memory fanout bus.
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// Emit is shorthand for Publish with the current time.
func (b *memBus) Emit(eventType string, data any) {
	b.Publish(Event{Type: eventType, Data: data})
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish never holds the lock while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop on a full buffer. A concurrent
		// Close() may have closed the channel, hence the recover.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return &Subscription{
		ch: ch,
		close: func() {
			once.Do(func() {
				b.mu.Lock()
				delete(b.subs, id)
				b.mu.Unlock()
				// Safe because Publish recovers from send-on-closed.
				close(ch)
			})
		},
	}
}

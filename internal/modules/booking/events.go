// README: Booking change notifications for viewers, dispatch and the event stream.
package booking

import (
	"context"
	"sync"
	"time"
)

const assignedMessage = "A driver has been assigned to your booking!"

type Event struct {
	Booking *Booking
	From    Status
	To      Status
	Message string
	At      time.Time
}

// Listener is invoked synchronously after the change is durable. It must not block.
type Listener func(ctx context.Context, e Event)

type bus struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func newBus() *bus {
	return &bus{listeners: make(map[int]Listener)}
}

func (b *bus) subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *bus) publish(ctx context.Context, e Event) {
	b.mu.RLock()
	ls := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.RUnlock()

	for _, l := range ls {
		ev := e
		ev.Booking = e.Booking.Clone()
		l(ctx, ev)
	}
}

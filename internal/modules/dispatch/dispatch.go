// README: Dispatch wiring: arms a booking's assignment window on create and disarms it on leaving pending.
package dispatch

import (
	"context"
	"errors"

	"ridebook/internal/modules/booking"
	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

// Assigner is the booking operation a dispatch trigger fires.
type Assigner interface {
	RequestAssignment(ctx context.Context, id types.ID) (*booking.Booking, error)
}

// Arming is implemented by Scheduler and QueueScheduler.
type Arming interface {
	// Arm (re)starts the window for id.
	Arm(id types.ID)
	// Ensure arms id only when nothing is armed for it yet.
	Ensure(id types.ID) bool
	Disarm(id types.ID)
}

type Subscriber interface {
	Subscribe(l booking.Listener) func()
}

// Attach keeps a in step with booking changes on svc. The returned func detaches.
func Attach(svc Subscriber, a Arming) func() {
	return svc.Subscribe(func(_ context.Context, e booking.Event) {
		switch {
		case e.From == booking.StatusNone && e.To == booking.StatusPending:
			a.Arm(e.Booking.ID)
		case e.From == booking.StatusPending:
			a.Disarm(e.Booking.ID)
		}
	})
}

// benign reports errors that mean the trigger lost a race or the booking is gone.
func benign(err error) bool {
	return booking.IsBenign(err) || errors.Is(err, booking.ErrNotFound)
}

func retryable(err error) bool {
	return errors.Is(err, matching.ErrNoDriverAvailable)
}

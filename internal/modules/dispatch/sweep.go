// README: Periodic sweep that re-arms pending bookings nobody is timing.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridebook/internal/modules/booking"
)

type PendingLister interface {
	PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*booking.Booking, error)
}

// Reconciler picks up bookings left pending past their window, e.g. after a
// restart dropped the in-process timers.
type Reconciler struct {
	lister   PendingLister
	arming   Arming
	window   time.Duration
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewReconciler(lister PendingLister, arming Arming, window, interval time.Duration, log *zap.Logger) *Reconciler {
	if window <= 0 {
		window = DefaultWindow
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		lister:   lister,
		arming:   arming,
		window:   window,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil {
			r.log.Warn("dispatch sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep arms every stale pending booking and returns how many were armed.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.lister.PendingOlderThan(ctx, r.now().Add(-r.window))
	if err != nil {
		return 0, err
	}
	armed := 0
	for _, b := range stale {
		if r.arming.Ensure(b.ID) {
			armed++
		}
	}
	if armed > 0 {
		r.log.Info("re-armed stale bookings", zap.Int("count", armed))
	}
	return armed, nil
}

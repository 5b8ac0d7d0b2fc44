// README: Booking lifecycle engine: state transitions, driver assignment and change notifications.
package booking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

type Service struct {
	store    *Store
	pool     matching.Pool
	selector matching.Selector
	log      *zap.Logger
	events   *bus
}

func NewService(store *Store, pool matching.Pool, selector matching.Selector, log *zap.Logger) *Service {
	if selector == nil {
		selector = matching.RandomSelector{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		pool:     pool,
		selector: selector,
		log:      log,
		events:   newBus(),
	}
}

type CancelCommand struct {
	BookingID types.ID
	Reason    string
}

// Subscribe registers l for every booking change. The returned func unsubscribes.
func (s *Service) Subscribe(l Listener) func() {
	return s.events.subscribe(l)
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	b, err := s.store.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking created",
		zap.String("booking_id", b.ID.String()),
		zap.String("rider_id", b.RiderID.String()),
	)
	s.events.publish(ctx, Event{Booking: b, From: StatusNone, To: StatusPending, At: b.CreatedAt})
	return b, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByRider(ctx context.Context, riderID types.ID, class StatusClass) ([]*Booking, error) {
	return s.store.ListByRider(ctx, riderID, class)
}

// RequestAssignment is the only path from pending to confirmed. Concurrent
// callers for the same booking race on the store's status guard: exactly
// one wins, the rest get ErrInvalidTransition.
func (s *Service) RequestAssignment(ctx context.Context, id types.ID) (*Booking, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPending {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, id, cur.Status)
	}

	drivers, err := s.pool.Available(ctx)
	if err != nil {
		return nil, fmt.Errorf("driver pool: %w", err)
	}
	driver, err := s.selector.Select(drivers)
	if err != nil {
		return nil, err
	}

	b, err := s.store.ApplyAssignment(ctx, id, driver)
	if err != nil {
		return nil, err
	}
	s.log.Info("driver assigned",
		zap.String("booking_id", id.String()),
		zap.String("driver_id", driver.ID.String()),
	)
	s.events.publish(ctx, Event{
		Booking: b,
		From:    StatusPending,
		To:      StatusConfirmed,
		Message: assignedMessage,
		At:      stamp(b),
	})
	return b, nil
}

func (s *Service) Complete(ctx context.Context, id types.ID) (*Booking, error) {
	return s.transition(ctx, id, StatusConfirmed, StatusCompleted, "")
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Booking, error) {
	return s.transition(ctx, cmd.BookingID, StatusPending, StatusCancelled, cmd.Reason)
}

func (s *Service) transition(ctx context.Context, id types.ID, from, to Status, reason string) (*Booking, error) {
	b, err := s.store.Transition(ctx, id, from, to, reason)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking transitioned",
		zap.String("booking_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.events.publish(ctx, Event{Booking: b, From: from, To: to, At: stamp(b)})
	return b, nil
}

func stamp(b *Booking) time.Time {
	if b.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return b.UpdatedAt
}

// README: Booking store: in-memory projection kept behind a durable store.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

type CreateCommand struct {
	RiderID types.ID
	Pickup  string
	Dropoff string
	Date    string
	Time    string
}

// DefaultListRefresh bounds how long a rider listing may miss bookings
// written by another process against the same durable store.
const DefaultListRefresh = 5 * time.Second

// Store serves reads from a projection and routes every mutation through
// the durable store first. The projection is updated only after a durable
// write succeeds and never moves a record backwards in the state flow.
type Store struct {
	durable     Durable
	now         func() time.Time
	listRefresh time.Duration

	mu      sync.RWMutex
	records map[types.ID]*Booking
	loaded  map[types.ID]time.Time
}

func NewStore(durable Durable) *Store {
	return &Store{
		durable:     durable,
		now:         time.Now,
		listRefresh: DefaultListRefresh,
		records:     make(map[types.ID]*Booking),
		loaded:      make(map[types.ID]time.Time),
	}
}

func (s *Store) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	if cmd.RiderID == "" {
		return nil, ErrUnauthenticated
	}
	cmd.Pickup = strings.TrimSpace(cmd.Pickup)
	cmd.Dropoff = strings.TrimSpace(cmd.Dropoff)
	cmd.Date = strings.TrimSpace(cmd.Date)
	cmd.Time = strings.TrimSpace(cmd.Time)

	var missing []string
	for name, v := range map[string]string{
		"pickup":  cmd.Pickup,
		"dropoff": cmd.Dropoff,
		"date":    cmd.Date,
		"time":    cmd.Time,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	now := s.now().UTC()
	b := &Booking{
		ID:        types.NewID(),
		RiderID:   cmd.RiderID,
		Pickup:    cmd.Pickup,
		Dropoff:   cmd.Dropoff,
		Date:      cmd.Date,
		Time:      cmd.Time,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.durable.Insert(ctx, b); err != nil {
		return nil, unavailable(err)
	}
	s.put(b)
	return b.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	s.mu.RLock()
	b, ok := s.records[id]
	s.mu.RUnlock()
	if ok {
		return b.Clone(), nil
	}
	return s.refresh(ctx, id)
}

// ListByRider returns the rider's bookings in the class, oldest first.
func (s *Store) ListByRider(ctx context.Context, riderID types.ID, class StatusClass) ([]*Booking, error) {
	if riderID == "" {
		return nil, ErrUnauthenticated
	}
	if _, ok := ParseClass(string(class)); !ok {
		return nil, fmt.Errorf("%w: unknown status class %q", ErrValidation, class)
	}

	s.mu.RLock()
	loadedAt, ok := s.loaded[riderID]
	s.mu.RUnlock()
	if !ok || s.now().Sub(loadedAt) >= s.listRefresh {
		if err := s.Reload(ctx, riderID); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	var out []*Booking
	for _, b := range s.records {
		if b.RiderID == riderID && b.Status.In(class) {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Reload rebuilds the projection for one rider from durable storage.
// ListByRider calls it again once the last load is listRefresh old.
func (s *Store) Reload(ctx context.Context, riderID types.ID) error {
	at := s.now()
	recs, err := s.durable.QueryByRider(ctx, riderID)
	if err != nil {
		return unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range recs {
		s.putLocked(b)
	}
	s.loaded[riderID] = at
	return nil
}

// ApplyAssignment moves a pending booking to confirmed with the driver attached.
func (s *Store) ApplyAssignment(ctx context.Context, id types.ID, driver matching.Driver) (*Booking, error) {
	return s.transition(ctx, id, StatusPending, StatusConfirmed, &driver, "")
}

// Transition applies a driverless status change guarded on the current status.
func (s *Store) Transition(ctx context.Context, id types.ID, from, to Status, reason string) (*Booking, error) {
	if !CanTransition(from, to) || to == StatusConfirmed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return s.transition(ctx, id, from, to, nil, reason)
}

// PendingOlderThan lists durable pending bookings created before cutoff.
func (s *Store) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]*Booking, error) {
	recs, err := s.durable.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*Booking, 0, len(recs))
	for _, b := range recs {
		s.put(b)
		out = append(out, b.Clone())
	}
	return out, nil
}

func (s *Store) transition(ctx context.Context, id types.ID, from, to Status, driver *matching.Driver, reason string) (*Booking, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != from {
		return nil, fmt.Errorf("%w: booking %s is %s, not %s", ErrInvalidTransition, id, cur.Status, from)
	}

	updated, err := s.durable.UpdateStatusAndDriver(ctx, id, from, to, driver, reason)
	switch {
	case errors.Is(err, ErrConflict):
		// another writer got there first; pick up its result
		_, _ = s.refresh(ctx, id)
		return nil, fmt.Errorf("%w: booking %s is no longer %s", ErrInvalidTransition, id, from)
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, unavailable(err)
	}
	s.put(updated)
	return updated.Clone(), nil
}

func (s *Store) refresh(ctx context.Context, id types.ID) (*Booking, error) {
	b, err := s.durable.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	s.put(b)
	return b.Clone(), nil
}

func (s *Store) put(b *Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(b)
}

func (s *Store) putLocked(b *Booking) {
	if cur, ok := s.records[b.ID]; ok && b.Status.rank() < cur.Status.rank() {
		return
	}
	s.records[b.ID] = b.Clone()
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

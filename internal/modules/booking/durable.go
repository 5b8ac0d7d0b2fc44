// README: Durable store contract and an in-memory implementation with the same CAS semantics.
package booking

import (
	"context"
	"sync"
	"time"

	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

// Durable is the authoritative record store behind the projection.
// UpdateStatusAndDriver only applies when the stored status equals expected;
// otherwise it returns ErrConflict (or ErrNotFound for an unknown id).
// A nil driver leaves the stored driver untouched.
type Durable interface {
	Insert(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	UpdateStatusAndDriver(ctx context.Context, id types.ID, expected, next Status, driver *matching.Driver, reason string) (*Booking, error)
	QueryByRider(ctx context.Context, riderID types.ID) ([]*Booking, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Booking, error)
}

type MemoryDurable struct {
	mu      sync.Mutex
	records map[types.ID]*Booking
}

func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{records: make(map[types.ID]*Booking)}
}

func (m *MemoryDurable) Insert(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[b.ID]; ok {
		return ErrConflict
	}
	m.records[b.ID] = b.Clone()
	return nil
}

func (m *MemoryDurable) Get(_ context.Context, id types.ID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryDurable) UpdateStatusAndDriver(_ context.Context, id types.ID, expected, next Status, driver *matching.Driver, reason string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != expected {
		return nil, ErrConflict
	}
	updated := b.Clone()
	applyTransition(updated, next, driver, reason, time.Now().UTC())
	m.records[id] = updated
	return updated.Clone(), nil
}

func (m *MemoryDurable) QueryByRider(_ context.Context, riderID types.ID) ([]*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.records {
		if b.RiderID == riderID {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (m *MemoryDurable) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.records {
		if b.Status == StatusPending && b.CreatedAt.Before(cutoff) {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

// applyTransition mutates b in place the same way every Durable does on a successful CAS.
func applyTransition(b *Booking, next Status, driver *matching.Driver, reason string, now time.Time) {
	b.Status = next
	b.UpdatedAt = now
	if driver != nil {
		d := *driver
		b.Driver = &d
	}
	switch next {
	case StatusConfirmed:
		b.ConfirmedAt = &now
	case StatusCompleted:
		b.CompletedAt = &now
	case StatusCancelled:
		b.CancelledAt = &now
		if reason != "" {
			r := reason
			b.CancelReason = &r
		}
	}
}

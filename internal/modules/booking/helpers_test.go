// README: Shared fixtures for booking tests.
package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

var errDiskGone = errors.New("disk gone")

// flakyDurable wraps a MemoryDurable and fails writes on demand.
type flakyDurable struct {
	*MemoryDurable
	mu          sync.Mutex
	failInsert  bool
	failUpdate  bool
	failQueries bool
}

func newFlakyDurable() *flakyDurable {
	return &flakyDurable{MemoryDurable: NewMemoryDurable()}
}

func (f *flakyDurable) set(insert, update, queries bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInsert, f.failUpdate, f.failQueries = insert, update, queries
}

func (f *flakyDurable) Insert(ctx context.Context, b *Booking) error {
	f.mu.Lock()
	fail := f.failInsert
	f.mu.Unlock()
	if fail {
		return errDiskGone
	}
	return f.MemoryDurable.Insert(ctx, b)
}

func (f *flakyDurable) UpdateStatusAndDriver(ctx context.Context, id types.ID, expected, next Status, d *matching.Driver, reason string) (*Booking, error) {
	f.mu.Lock()
	fail := f.failUpdate
	f.mu.Unlock()
	if fail {
		return nil, errDiskGone
	}
	return f.MemoryDurable.UpdateStatusAndDriver(ctx, id, expected, next, d, reason)
}

func (f *flakyDurable) QueryByRider(ctx context.Context, riderID types.ID) ([]*Booking, error) {
	f.mu.Lock()
	fail := f.failQueries
	f.mu.Unlock()
	if fail {
		return nil, errDiskGone
	}
	return f.MemoryDurable.QueryByRider(ctx, riderID)
}

// slowDurable delays every CAS so concurrent callers overlap inside the store.
type slowDurable struct {
	*MemoryDurable
	delay time.Duration
}

func (s *slowDurable) UpdateStatusAndDriver(ctx context.Context, id types.ID, expected, next Status, d *matching.Driver, reason string) (*Booking, error) {
	time.Sleep(s.delay)
	return s.MemoryDurable.UpdateStatusAndDriver(ctx, id, expected, next, d, reason)
}

func newTestService(t *testing.T, d Durable, drivers []matching.Driver) *Service {
	t.Helper()
	return NewService(NewStore(d), matching.NewStaticPool(drivers), matching.RandomSelector{}, nil)
}

func mustCreate(t *testing.T, svc *Service, rider types.ID) *Booking {
	t.Helper()
	b, err := svc.Create(context.Background(), CreateCommand{
		RiderID: rider,
		Pickup:  "A",
		Dropoff: "B",
		Date:    "2025-01-01",
		Time:    "09:00",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func assertStatus(t *testing.T, svc *Service, id types.ID, want Status) *Booking {
	t.Helper()
	b, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if b.Status != want {
		t.Fatalf("expected status %s, got %s", want, b.Status)
	}
	return b
}

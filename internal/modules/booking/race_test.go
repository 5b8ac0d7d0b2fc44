// README: Concurrency tests for booking state transitions (run with -race).
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

func TestConcurrentRequestAssignmentSameBooking(t *testing.T) {
	d := &slowDurable{MemoryDurable: NewMemoryDurable(), delay: 2 * time.Millisecond}
	svc := newTestService(t, d, matching.DefaultDrivers)
	ctx := context.Background()

	b := mustCreate(t, svc, "rider_multi_assign")

	const attempts = 16
	errs := make(chan error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.RequestAssignment(ctx, b.ID)
			errs <- err
		}()
	}

	close(start)
	wg.Wait()
	close(errs)

	assertSingleWinner(t, errs)

	got := assertStatus(t, svc, b.ID, StatusConfirmed)
	if got.Driver == nil || got.Driver.ID == "" {
		t.Fatal("expected driver to be set")
	}
}

// Two stores sharing only the durable layer behave like two processes.
func TestConcurrentRequestAssignmentAcrossStores(t *testing.T) {
	d := &slowDurable{MemoryDurable: NewMemoryDurable(), delay: time.Millisecond}
	pool := matching.NewStaticPool(matching.DefaultDrivers)
	svcA := NewService(NewStore(d), pool, matching.RandomSelector{}, nil)
	svcB := NewService(NewStore(d), pool, matching.RandomSelector{}, nil)
	ctx := context.Background()

	b := mustCreate(t, svcA, "rider_two_processes")

	const perProcess = 6
	errs := make(chan error, 2*perProcess)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, svc := range []*Service{svcA, svcB} {
		for i := 0; i < perProcess; i++ {
			wg.Add(1)
			go func(s *Service) {
				defer wg.Done()
				<-start
				_, err := s.RequestAssignment(ctx, b.ID)
				errs <- err
			}(svc)
		}
	}
	close(start)
	wg.Wait()
	close(errs)

	assertSingleWinner(t, errs)

	stored, err := d.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("durable get: %v", err)
	}
	if stored.Status != StatusConfirmed || stored.Driver == nil {
		t.Fatalf("unexpected durable state: %+v", stored)
	}
	// both projections converge on the durable driver
	for _, svc := range []*Service{svcA, svcB} {
		got := assertStatus(t, svc, b.ID, StatusConfirmed)
		if got.Driver.ID != stored.Driver.ID {
			t.Fatalf("projection driver %s differs from durable %s", got.Driver.ID, stored.Driver.ID)
		}
	}
}

func TestConcurrentAssignVsCancel(t *testing.T) {
	for round := 0; round < 50; round++ {
		d := &slowDurable{MemoryDurable: NewMemoryDurable(), delay: 100 * time.Microsecond}
		svc := newTestService(t, d, matching.DefaultDrivers)
		ctx := context.Background()

		b := mustCreate(t, svc, types.ID("rider_assign_cancel"))

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		start := make(chan struct{})

		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.RequestAssignment(ctx, b.ID)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Cancel(ctx, CancelCommand{BookingID: b.ID, Reason: "rider_cancel"})
			errs <- err
		}()
		close(start)
		wg.Wait()
		close(errs)

		assertSingleWinner(t, errs)

		stored, err := d.Get(ctx, b.ID)
		if err != nil {
			t.Fatalf("durable get: %v", err)
		}
		switch stored.Status {
		case StatusConfirmed:
			if stored.Driver == nil {
				t.Fatal("confirmed without driver")
			}
		case StatusCancelled:
			if stored.Driver != nil {
				t.Fatal("cancelled booking carries a driver")
			}
		default:
			t.Fatalf("round %d: unexpected final status %s", round, stored.Status)
		}
	}
}

// Readers racing an assignment never see a driver on a pending booking.
func TestConcurrentReadersNeverSeeDriverWithoutConfirmation(t *testing.T) {
	svc := newTestService(t, NewMemoryDurable(), matching.DefaultDrivers)
	ctx := context.Background()
	b := mustCreate(t, svc, "rider_readers")

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := svc.Get(ctx, b.ID)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				if got.Driver != nil && got.Status == StatusPending {
					t.Errorf("observed driver on pending booking")
					return
				}
			}
		}()
	}

	if _, err := svc.RequestAssignment(ctx, b.ID); err != nil {
		t.Fatalf("request assignment: %v", err)
	}
	close(done)
	wg.Wait()
}

func assertSingleWinner(t *testing.T, errs <-chan error) {
	t.Helper()
	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
}

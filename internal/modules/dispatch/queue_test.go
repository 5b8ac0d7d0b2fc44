package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"ridebook/internal/modules/booking"
	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

type fakeQueue struct {
	tasks   map[string]*asynq.Task
	opts    map[string][]asynq.Option
	deleted []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(map[string]*asynq.Task), opts: make(map[string][]asynq.Option)}
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if _, ok := f.tasks[id]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	f.tasks[id] = task
	f.opts[id] = opts
	return &asynq.TaskInfo{ID: id}, nil
}

func (f *fakeQueue) DeleteTask(_, id string) error {
	if _, ok := f.tasks[id]; !ok {
		return asynq.ErrTaskNotFound
	}
	delete(f.tasks, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func TestQueueSchedulerArmEnqueuesDelayedTask(t *testing.T) {
	q := newFakeQueue()
	s := NewQueueScheduler(q, q, Options{Window: 15 * time.Second, MaxAttempts: 3}, nil)

	s.Arm("b1")
	task, ok := q.tasks[taskID("b1")]
	if !ok {
		t.Fatal("expected task to be enqueued")
	}
	if task.Type() != TypeAssign {
		t.Fatalf("expected type %s, got %s", TypeAssign, task.Type())
	}
	var p assignPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.BookingID != "b1" {
		t.Fatalf("unexpected payload %s (%v)", task.Payload(), err)
	}

	var delay time.Duration
	var retries int
	for _, o := range q.opts[taskID("b1")] {
		switch o.Type() {
		case asynq.ProcessInOpt:
			delay = o.Value().(time.Duration)
		case asynq.MaxRetryOpt:
			retries = o.Value().(int)
		}
	}
	if delay != 15*time.Second {
		t.Fatalf("expected 15s delay, got %s", delay)
	}
	if retries != 2 {
		t.Fatalf("expected 2 retries for 3 attempts, got %d", retries)
	}
}

func TestQueueSchedulerEnsureAndDisarm(t *testing.T) {
	q := newFakeQueue()
	s := NewQueueScheduler(q, q, Options{}, nil)

	if !s.Ensure("b1") {
		t.Fatal("first ensure must arm")
	}
	if s.Ensure("b1") {
		t.Fatal("second ensure must see the existing task")
	}
	s.Arm("b1")
	if len(q.deleted) != 1 || len(q.tasks) != 1 {
		t.Fatalf("arm must replace the task, deleted=%v tasks=%d", q.deleted, len(q.tasks))
	}

	s.Disarm("b1")
	s.Disarm("b1")
	if len(q.tasks) != 0 {
		t.Fatal("disarm must delete the task")
	}
}

func TestQueueSchedulerAttach(t *testing.T) {
	q := newFakeQueue()
	s := NewQueueScheduler(q, q, Options{}, nil)
	svc, _ := newBookingService(matching.DefaultDrivers)
	Attach(svc, s)

	ctx := context.Background()
	b, _ := svc.Create(ctx, booking.CreateCommand{RiderID: "R1", Pickup: "A", Dropoff: "B", Date: "d", Time: "t"})
	if _, ok := q.tasks[taskID(b.ID)]; !ok {
		t.Fatal("create must enqueue a dispatch task")
	}
	if _, err := svc.RequestAssignment(ctx, b.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, ok := q.tasks[taskID(b.ID)]; ok {
		t.Fatal("confirmation must delete the dispatch task")
	}
}

func TestHandler(t *testing.T) {
	svc, _ := newBookingService(matching.DefaultDrivers)
	h := NewHandler(svc, nil)
	ctx := context.Background()

	b, _ := svc.Create(ctx, booking.CreateCommand{RiderID: "R1", Pickup: "A", Dropoff: "B", Date: "d", Time: "t"})
	task, _, err := NewAssignTask(b.ID, time.Second, 3)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}

	if err := h.ProcessTask(ctx, task); err != nil {
		t.Fatalf("first run: %v", err)
	}
	got, _ := svc.Get(ctx, b.ID)
	if got.Status != booking.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}

	// redelivery after the booking moved on is a no-op
	if err := h.ProcessTask(ctx, task); err != nil {
		t.Fatalf("redelivery must be swallowed, got %v", err)
	}

	missing, _, _ := NewAssignTask(types.ID("missing"), time.Second, 3)
	if err := h.ProcessTask(ctx, missing); err != nil {
		t.Fatalf("unknown booking must be swallowed, got %v", err)
	}

	bad := asynq.NewTask(TypeAssign, []byte("{"))
	if err := h.ProcessTask(ctx, bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload must skip retry, got %v", err)
	}
}

func TestHandlerRetriesEmptyPool(t *testing.T) {
	svc, _ := newBookingService(nil)
	h := NewHandler(svc, nil)
	ctx := context.Background()

	b, _ := svc.Create(ctx, booking.CreateCommand{RiderID: "R1", Pickup: "A", Dropoff: "B", Date: "d", Time: "t"})
	task, _, _ := NewAssignTask(b.ID, time.Second, 3)
	if err := h.ProcessTask(ctx, task); !errors.Is(err, matching.ErrNoDriverAvailable) {
		t.Fatalf("expected ErrNoDriverAvailable for retry, got %v", err)
	}
}

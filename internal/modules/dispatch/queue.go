// README: Durable dispatch on asynq: one delayed task per pending booking.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"ridebook/internal/types"
)

const TypeAssign = "dispatch:assign"

type assignPayload struct {
	BookingID string `json:"booking_id"`
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type TaskDeleter interface {
	DeleteTask(queue, id string) error
}

// QueueScheduler keeps the assignment window in Redis so it outlives the process.
type QueueScheduler struct {
	client    Enqueuer
	inspector TaskDeleter
	queue     string
	opts      Options
	log       *zap.Logger
}

func NewQueueScheduler(client Enqueuer, inspector TaskDeleter, opts Options, log *zap.Logger) *QueueScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueScheduler{
		client:    client,
		inspector: inspector,
		queue:     "default",
		opts:      opts.withDefaults(),
		log:       log,
	}
}

func NewAssignTask(id types.ID, window time.Duration, maxAttempts int) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(assignPayload{BookingID: id.String()})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeAssign, b)
	opts := []asynq.Option{
		asynq.TaskID(taskID(id)),
		asynq.ProcessIn(window),
		asynq.MaxRetry(maxAttempts - 1),
	}
	return task, opts, nil
}

func (q *QueueScheduler) Arm(id types.ID) {
	q.Disarm(id)
	q.Ensure(id)
}

func (q *QueueScheduler) Ensure(id types.ID) bool {
	task, opts, err := NewAssignTask(id, q.opts.Window, q.opts.MaxAttempts)
	if err != nil {
		q.log.Error("build dispatch task", zap.Error(err))
		return false
	}
	opts = append(opts, asynq.Queue(q.queue))

	_, err = q.client.EnqueueContext(context.Background(), task, opts...)
	switch {
	case err == nil:
		return true
	case errors.Is(err, asynq.ErrTaskIDConflict):
		return false
	default:
		q.log.Warn("enqueue dispatch task",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
		return false
	}
}

func (q *QueueScheduler) Disarm(id types.ID) {
	err := q.inspector.DeleteTask(q.queue, taskID(id))
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		q.log.Debug("delete dispatch task",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
	}
}

// NewHandler processes dispatch:assign tasks. Returning an error on an empty
// pool lets asynq retry within MaxRetry.
func NewHandler(assigner Assigner, log *zap.Logger) asynq.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, task *asynq.Task) error {
		var p assignPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("decode dispatch payload: %v: %w", err, asynq.SkipRetry)
		}
		id := types.ID(p.BookingID)

		_, err := assigner.RequestAssignment(ctx, id)
		switch {
		case err == nil:
			return nil
		case benign(err):
			log.Debug("dispatch skipped",
				zap.String("booking_id", p.BookingID),
				zap.Error(err),
			)
			return nil
		case retryable(err):
			log.Info("no driver available, retrying",
				zap.String("booking_id", p.BookingID),
			)
			return err
		default:
			log.Warn("dispatch failed",
				zap.String("booking_id", p.BookingID),
				zap.Error(err),
			)
			return err
		}
	}
}

func NewServeMux(h asynq.Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAssign, h)
	return mux
}

func taskID(id types.ID) string {
	return "assign:" + id.String()
}

// README: In-process dispatch timers, one per pending booking.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridebook/internal/types"
)

const (
	DefaultWindow      = 15 * time.Second
	DefaultMaxAttempts = 3

	attemptTimeout = 10 * time.Second
)

type Options struct {
	Window      time.Duration
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

type timerEntry struct {
	timer    *time.Timer
	attempts int
	gen      uint64
}

// Scheduler fires RequestAssignment once the window after Arm elapses.
// Timers live only in this process; Reconciler covers restarts.
type Scheduler struct {
	assigner Assigner
	opts     Options
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[types.ID]*timerEntry
	gen     uint64
	stopped bool
	wg      sync.WaitGroup
}

func NewScheduler(assigner Assigner, opts Options, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		assigner: assigner,
		opts:     opts.withDefaults(),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[types.ID]*timerEntry),
	}
}

func (s *Scheduler) Arm(id types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(id, 0)
}

func (s *Scheduler) Ensure(id types.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; ok || s.stopped {
		return false
	}
	s.armLocked(id, 0)
	return true
}

func (s *Scheduler) Disarm(id types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[id]; ok {
		e.timer.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all timers and waits for in-flight attempts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) armLocked(id types.ID, attempts int) {
	if s.stopped {
		return
	}
	if e, ok := s.timers[id]; ok {
		e.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[id] = &timerEntry{
		attempts: attempts,
		gen:      gen,
		timer:    time.AfterFunc(s.opts.Window, func() { s.fire(id, gen) }),
	}
}

func (s *Scheduler) fire(id types.ID, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[id]
	if !ok || e.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	attempt := e.attempts + 1
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, attemptTimeout)
	defer cancel()

	_, err := s.assigner.RequestAssignment(ctx, id)
	switch {
	case err == nil:
		return
	case benign(err):
		s.log.Debug("dispatch skipped",
			zap.String("booking_id", id.String()),
			zap.Error(err),
		)
	case retryable(err) && attempt < s.opts.MaxAttempts:
		s.log.Info("no driver available, re-arming",
			zap.String("booking_id", id.String()),
			zap.Int("attempt", attempt),
		)
		s.mu.Lock()
		if _, armed := s.timers[id]; !armed {
			s.armLocked(id, attempt)
		}
		s.mu.Unlock()
	default:
		s.log.Warn("dispatch failed",
			zap.String("booking_id", id.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// Package scheduler runs named tasks at a fixed interval until shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"fifobus/pkg/observability"
)

// TaskFunc is the work of one scheduled run. args are those given to Schedule.
type TaskFunc func(ctx context.Context, args ...any) error

var (
	// ErrStopped is returned by Schedule once shutdown has been requested.
	ErrStopped = errors.New("scheduler stopped")
	// ErrInvalidInterval rejects non-positive intervals.
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records task runs and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns one goroutine per scheduled task. Tasks stop when ctx is
// cancelled.
type Scheduler struct {
	ctx     context.Context
	log     *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a Scheduler bound to the shutdown context ctx.
func New(ctx context.Context, opts ...Option) *Scheduler {
	s := &Scheduler{ctx: ctx, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("scheduler")
	return s
}

// Schedule runs fn immediately and then every interval until shutdown. A
// returned error is logged and the task keeps its cadence; a panic is logged
// and ends that task only.
func (s *Scheduler) Schedule(name string, interval time.Duration, fn TaskFunc, args ...any) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: %w", name, ErrInvalidInterval)
	}
	if fn == nil {
		return fmt.Errorf("schedule %s: nil task", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return ErrStopped
	}
	s.wg.Add(1)
	go s.loop(name, interval, fn, args)
	s.log.Info("registered periodic task", zap.String("task", name), zap.Duration("interval", interval))
	return nil
}

// WaitUntilShutdown blocks until shutdown is requested and every task has
// returned.
func (s *Scheduler) WaitUntilShutdown() {
	<-s.ctx.Done()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(name string, interval time.Duration, fn TaskFunc, args []any) {
	defer s.wg.Done()
	log := s.log.With(zap.String("task", name))
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		if !s.runOnce(log, name, fn, args) {
			return
		}
		timer.Reset(interval)
		select {
		case <-s.ctx.Done():
			log.Debug("task stopped", zap.String("reason", "shutdown"))
			return
		case <-timer.C:
		}
	}
}

// runOnce reports whether the task may run again.
func (s *Scheduler) runOnce(log *zap.Logger, name string, fn TaskFunc, args []any) (again bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.TaskRun(name, fmt.Errorf("panic: %v", r))
			log.Error("task panicked, not rescheduling", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			again = false
		}
	}()
	err := fn(s.ctx, args...)
	s.metrics.TaskRun(name, err)
	if err != nil {
		log.Error("task failed", zap.Duration("took", time.Since(start)), zap.Error(err))
	} else {
		log.Debug("task finished", zap.Duration("took", time.Since(start)))
	}
	return true
}

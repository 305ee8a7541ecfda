// Package shutdown provides the process-wide cooperative cancellation flag.
//
// A signal only flips the flag; cleanup hooks run afterwards on an ordinary
// goroutine. Loops call Stopped between units of work, never in the middle of
// one, so in-flight I/O always completes before a component exits.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Hook is cleanup work run once after shutdown has been requested.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Coordinator owns the shutdown flag. The zero value is not usable; call New.
type Coordinator struct {
	log *zap.Logger

	mu      sync.Mutex
	stopped bool
	reason  string
	hooks   []Hook

	done        chan struct{}
	cleanupDone chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc

	sigCh   chan os.Signal
	sigOnce sync.Once
}

// New returns a Coordinator with the flag cleared.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		log:         logger,
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Install routes SIGINT and SIGTERM (or the given signals) to Trigger.
// The signal goroutine does nothing but set the flag; hooks run on a separate
// goroutine started by Trigger.
func (c *Coordinator) Install(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	c.sigOnce.Do(func() {
		c.sigCh = make(chan os.Signal, 1)
		signal.Notify(c.sigCh, sigs...)
		go func() {
			select {
			case sig, ok := <-c.sigCh:
				if ok {
					c.Trigger("signal " + sig.String())
				}
			case <-c.done:
			}
		}()
	})
}

// Stop releases the signal subscription.
func (c *Coordinator) Stop() {
	if c.sigCh != nil {
		signal.Stop(c.sigCh)
	}
}

// OnShutdown registers a cleanup hook. Hooks registered after shutdown was
// requested are ignored and reported with false.
func (c *Coordinator) OnShutdown(name string, fn func(ctx context.Context) error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.hooks = append(c.hooks, Hook{Name: name, Fn: fn})
	return true
}

// Trigger sets the flag. Only the first call has an effect; it returns true
// for that call.
func (c *Coordinator) Trigger(reason string) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.stopped = true
	c.reason = reason
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	c.log.Info("shutdown requested", zap.String("reason", reason))
	close(c.done)
	c.cancel()
	go c.runHooks(hooks)
	return true
}

func (c *Coordinator) runHooks(hooks []Hook) {
	defer close(c.cleanupDone)
	for _, h := range hooks {
		if err := h.Fn(context.Background()); err != nil {
			c.log.Error("shutdown hook failed", zap.String("hook", h.Name), zap.Error(err))
			continue
		}
		c.log.Debug("shutdown hook done", zap.String("hook", h.Name))
	}
}

// Stopped is the cooperative checkpoint: true once shutdown was requested.
func (c *Coordinator) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Reason returns what triggered shutdown, or "" while running.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done is closed when shutdown is requested.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Context is cancelled when shutdown is requested.
func (c *Coordinator) Context() context.Context { return c.ctx }

// WaitCleanup blocks until every hook has run or ctx is done. It returns
// ErrNotStopped if called before shutdown was requested and ctx ends first.
func (c *Coordinator) WaitCleanup(ctx context.Context) error {
	select {
	case <-c.cleanupDone:
		return nil
	case <-ctx.Done():
		if !c.Stopped() {
			return ErrNotStopped
		}
		return ctx.Err()
	}
}

// ErrNotStopped is returned by WaitCleanup when shutdown never started.
var ErrNotStopped = errors.New("shutdown not requested")

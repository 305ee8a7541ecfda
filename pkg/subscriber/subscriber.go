// Package subscriber reads records from a channel and hands each one to a
// callback, in order, until shutdown or until the publisher goes away.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"fifobus/pkg/observability"
	"fifobus/pkg/protocol"
	"fifobus/pkg/protocol/codec"
	"fifobus/pkg/protocol/stream"
	"fifobus/pkg/transport"
)

// Record is one decoded message.
type Record = stream.Record

// Handler processes one record. args are the extra arguments given to Run.
// A returned error or a panic stops the subscriber.
type Handler func(ctx context.Context, rec Record, args ...any) error

var (
	ErrAlreadyRunning = errors.New("subscriber already running")
	ErrHandler        = errors.New("handler failed")
)

// Options configures a Subscriber. Transport is required.
type Options struct {
	Transport transport.Transport
	Codec     codec.Codec
	Framer    protocol.Framer
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Subscriber owns one read end of a channel.
type Subscriber struct {
	name string
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	err     error
}

// New returns a Subscriber for the channel called name.
func New(name string, opts Options) (*Subscriber, error) {
	if name == "" {
		return nil, errors.New("subscriber: empty channel name")
	}
	if opts.Transport == nil {
		return nil, errors.New("subscriber: nil transport")
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		name: name,
		opts: opts,
		log:  log.Named("subscriber").With(zap.String("channel", name)),
	}, nil
}

// Name returns the channel name.
func (s *Subscriber) Name() string { return s.name }

// Run waits for the channel to exist, attaches and dispatches records to h
// until ctx is cancelled or the publisher closes its end; both return nil.
// Decode failures, handler errors and handler panics end this subscriber
// with an error.
func (s *Subscriber) Run(ctx context.Context, h Handler, args ...any) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	return s.run(ctx, h, args)
}

// RunDetached starts Run on its own goroutine. Collect the result with
// BlockUntilExit.
func (s *Subscriber) RunDetached(ctx context.Context, h Handler, args ...any) error {
	if err := s.begin(); err != nil {
		return err
	}
	go func() {
		err := s.run(ctx, h, args)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.end()
	}()
	return nil
}

// BlockUntilExit waits for the detached run to finish and returns its error.
// It returns immediately when nothing was started.
func (s *Subscriber) BlockUntilExit() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscriber) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.err = nil
	s.done = make(chan struct{})
	return nil
}

func (s *Subscriber) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	close(s.done)
}

func (s *Subscriber) run(ctx context.Context, h Handler, args []any) error {
	if err := s.opts.Transport.WaitReady(ctx, s.name); err != nil {
		if ctx.Err() != nil {
			s.log.Info("shutdown before channel appeared")
			return nil
		}
		s.log.Error("wait for channel", zap.String("op", "wait"), zap.Error(err))
		return fmt.Errorf("subscriber %s: wait: %w", s.name, err)
	}
	src, err := s.opts.Transport.OpenSource(s.name)
	if err != nil {
		s.log.Error("open channel", zap.String("op", "open"), zap.Error(err))
		return fmt.Errorf("subscriber %s: open: %w", s.name, err)
	}
	defer src.Close()
	s.log.Info("listening")

	r := stream.NewReader(src, s.opts.Framer, s.opts.Codec)
	for {
		rec, n, err := r.Recv(ctx)
		if err != nil {
			return s.fail(ctx, err)
		}
		s.opts.Metrics.FrameRead(s.name, n)

		if err := s.dispatch(ctx, h, rec, args); err != nil {
			s.log.Error("handler failed, stopping", zap.String("op", "handle"), zap.Error(err))
			return fmt.Errorf("subscriber %s: %w", s.name, err)
		}
		if ctx.Err() != nil {
			s.log.Info("subscriber stopped", zap.String("reason", "shutdown"))
			return nil
		}
	}
}

func (s *Subscriber) fail(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, protocol.ErrBrokenPeer):
		s.opts.Metrics.ChannelError(s.name, err)
		s.log.Warn("publisher closed the channel, exiting", zap.String("op", "read"))
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		s.log.Info("subscriber stopped", zap.String("reason", "shutdown"))
		return nil
	default:
		s.opts.Metrics.ChannelError(s.name, err)
		s.log.Error("read failed, stopping", zap.String("op", "read"), zap.Error(err))
		return fmt.Errorf("subscriber %s: read: %w", s.name, err)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, h Handler, rec Record, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: panic: %v", ErrHandler, r)
		}
	}()
	if err := h(ctx, rec, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrHandler, err)
	}
	return nil
}

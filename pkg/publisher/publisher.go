// Package publisher writes generated records into a channel at a fixed
// interval until shutdown or until the subscriber goes away.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"fifobus/pkg/observability"
	"fifobus/pkg/protocol"
	"fifobus/pkg/protocol/codec"
	"fifobus/pkg/protocol/stream"
	"fifobus/pkg/transport"
)

// DefaultInterval is the wait before each record.
const DefaultInterval = 2 * time.Second

// Options configures a Publisher. Name, Transport and Generator are required.
type Options struct {
	// Name is the channel name understood by Transport.
	Name      string
	Transport transport.Transport
	Interval  time.Duration
	// Generator returns the next record to publish.
	Generator func() any
	Codec     codec.Codec
	Framer    protocol.Framer
	// Backoff paces attach attempts while no subscriber has opened the
	// channel. Defaults to an exponential backoff without elapsed-time limit.
	Backoff backoff.BackOff
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Publisher owns one write end of a channel.
type Publisher struct {
	opts Options
	log  *zap.Logger
}

// New validates opts and returns a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.Name == "" {
		return nil, errors.New("publisher: empty channel name")
	}
	if opts.Transport == nil {
		return nil, errors.New("publisher: nil transport")
	}
	if opts.Generator == nil {
		return nil, errors.New("publisher: nil generator")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON()
	}
	if opts.Backoff == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 50 * time.Millisecond
		eb.MaxInterval = time.Second
		eb.MaxElapsedTime = 0
		opts.Backoff = eb
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{opts: opts, log: log.Named("publisher").With(zap.String("channel", opts.Name))}, nil
}

// Run attaches to the channel and publishes until ctx is cancelled. It returns
// nil on shutdown (attached or not) and when the subscriber closes its end;
// any other failure is returned wrapped.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("waiting for subscriber")
	sink, err := p.attach(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.log.Info("shutdown before a subscriber attached")
			return nil
		}
		p.log.Error("attach failed", zap.String("op", "attach"), zap.Error(err))
		p.opts.Metrics.ChannelError(p.opts.Name, err)
		return fmt.Errorf("publisher %s: attach: %w", p.opts.Name, err)
	}
	defer sink.Close()
	p.log.Info("subscriber attached")

	w := stream.NewWriter(sink, p.opts.Framer, p.opts.Codec)
	begin := time.Now()
	timer := time.NewTimer(p.opts.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("publisher stopped", zap.String("reason", "shutdown"))
			return nil
		case <-timer.C:
		}

		rec := p.opts.Generator()
		n, err := w.Send(ctx, rec)
		if err != nil {
			return p.fail(ctx, err)
		}
		p.opts.Metrics.FrameWritten(p.opts.Name, n)
		p.log.Debug("wrote record",
			zap.Duration("elapsed", time.Since(begin)),
			zap.Int("bytes", n),
			zap.Any("record", rec))

		timer.Reset(p.opts.Interval)
	}
}

func (p *Publisher) fail(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, protocol.ErrBrokenPeer):
		p.opts.Metrics.ChannelError(p.opts.Name, err)
		p.log.Warn("subscriber closed the channel, exiting", zap.String("op", "write"), zap.Error(err))
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		p.log.Info("publisher stopped", zap.String("reason", "shutdown"))
		return nil
	default:
		p.opts.Metrics.ChannelError(p.opts.Name, err)
		p.log.Error("publish failed", zap.String("op", "write"), zap.Error(err))
		return fmt.Errorf("publisher %s: %w", p.opts.Name, err)
	}
}

// attach opens the write end, retrying while no reader is present.
func (p *Publisher) attach(ctx context.Context) (transport.Sink, error) {
	var sink transport.Sink
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		s, err := p.opts.Transport.OpenSink(p.opts.Name)
		if err != nil {
			if errors.Is(err, protocol.ErrTransientUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		sink = s
		return nil
	}
	notify := func(err error, d time.Duration) {
		p.opts.Metrics.AttachRetry(p.opts.Name)
		p.log.Debug("no subscriber yet", zap.Duration("retry_in", d))
	}
	p.opts.Backoff.Reset()
	if err := backoff.RetryNotify(op, backoff.WithContext(p.opts.Backoff, ctx), notify); err != nil {
		return nil, err
	}
	return sink, nil
}

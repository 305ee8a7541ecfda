// Package app wires fifobus components into the three process roles:
// publish, ingest and analytics.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fifobus/pkg/config"
	"fifobus/pkg/observability"
	"fifobus/pkg/protocol"
	"fifobus/pkg/protocol/codec"
	"fifobus/pkg/records"
	"fifobus/pkg/shutdown"
	"fifobus/pkg/store"
	"fifobus/pkg/transport"
	"fifobus/pkg/transport/fifo"
)

// cleanupTimeout bounds how long a role waits for shutdown hooks.
const cleanupTimeout = 10 * time.Second

// StoreOpener returns the executor used by a role and a release func.
type StoreOpener func(ctx context.Context) (store.Executor, func(), error)

// App holds what every role shares.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	runID     string
	coord     *shutdown.Coordinator
	transport transport.Transport
	codecs    *codec.Registry
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	openStore StoreOpener
	src       records.Source
}

// Option customizes an App.
type Option func(*App)

// WithTransport replaces the named-pipe transport.
func WithTransport(t transport.Transport) Option { return func(a *App) { a.transport = t } }

// WithCoordinator supplies the shutdown coordinator. Without it New creates
// one and the caller installs signals via Coordinator().Install.
func WithCoordinator(c *shutdown.Coordinator) Option { return func(a *App) { a.coord = c } }

// WithStore replaces the Postgres connection with opener.
func WithStore(opener StoreOpener) Option { return func(a *App) { a.openStore = opener } }

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(a *App) { a.registry = reg } }

// WithRandSource seeds the record generator.
func WithRandSource(src records.Source) Option { return func(a *App) { a.src = src } }

// New builds an App for cfg.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	a := &App{
		cfg:    cfg,
		runID:  runID,
		log:    logger.With(zap.String("run_id", runID)),
		codecs: codec.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.coord == nil {
		a.coord = shutdown.New(a.log)
	}
	if a.transport == nil {
		ft := fifo.New(cfg.Pipes.Dir, a.log)
		a.transport = ft
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.metrics = observability.NewMetrics(a.registry)
	if a.openStore == nil {
		a.openStore = a.connectPostgres
	}
	return a
}

// Coordinator returns the shutdown coordinator shared by every component.
func (a *App) Coordinator() *shutdown.Coordinator { return a.coord }

// Metrics returns the collectors registered by New.
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// RunID identifies this process in logs.
func (a *App) RunID() string { return a.runID }

func (a *App) framer() protocol.Framer {
	return protocol.Framer{
		MaxFrameSize: a.cfg.Subscriber.MaxFrameSize,
		PollInterval: a.cfg.Subscriber.PollInterval,
	}
}

func (a *App) codec() (codec.Codec, error) {
	return a.codecs.Lookup(a.cfg.Publisher.Codec)
}

func (a *App) connectPostgres(ctx context.Context) (store.Executor, func(), error) {
	pool, err := store.Connect(ctx, a.cfg.Store, a.log)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

// openOptionalStore returns nil when the store is disabled.
func (a *App) openOptionalStore(ctx context.Context) (*store.Store, func(), error) {
	db, release, err := a.openStore(ctx)
	if errors.Is(err, store.ErrDisabled) {
		a.log.Info("store disabled, records are only logged")
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if release == nil {
		release = func() {}
	}
	return store.New(db, a.log), release, nil
}

// serveMetrics starts the Prometheus endpoint when configured.
func (a *App) serveMetrics(ctx context.Context) {
	addr := a.cfg.Metrics.Listen
	if addr == "" {
		return
	}
	go func() {
		if err := observability.ServeMetrics(ctx, addr, a.registry, a.log); err != nil {
			a.log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

// waitCleanup waits for shutdown hooks when shutdown was requested.
func (a *App) waitCleanup() {
	if !a.coord.Stopped() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := a.coord.WaitCleanup(ctx); err != nil {
		a.log.Warn("cleanup did not finish", zap.Error(err))
	}
}

// unitFailed records a publisher or subscriber that stopped with an error.
// Its siblings keep running and the role still exits cleanly.
func (a *App) unitFailed(log *zap.Logger, role, channel string, err error) {
	a.metrics.UnitFailed(role, channel, err)
	log.Error("unit stopped with error", zap.String("channel", channel), zap.Error(err))
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"fifobus/pkg/config"
)

// ErrDisabled is returned by Connect when no DSN is configured.
var ErrDisabled = errors.New("store disabled")

// Connect opens a pgx pool for cfg and pings it, retrying up to
// cfg.ConnectRetries times cfg.ConnectInterval apart.
func Connect(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	interval := cfg.ConnectInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(retries)), ctx)

	var pool *pgxpool.Pool
	op := func() error {
		p, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	notify := func(err error, d time.Duration) {
		logger.Warn("postgres not reachable, retrying", zap.Duration("retry_in", d), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("postgres connected", zap.String("host", pcfg.ConnConfig.Host), zap.String("database", pcfg.ConnConfig.Database))
	return pool, nil
}

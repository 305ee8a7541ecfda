package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fifobus/pkg/dedup"
	"fifobus/pkg/records"
	"fifobus/pkg/store"
	"fifobus/pkg/subscriber"
)

// Ingest subscribes to both pipes and stores every record whose id was not
// seen before. It returns when both subscribers have exited. Only setup
// failures are returned; a subscriber that stops with an error is logged and
// counted.
func (a *App) Ingest() error {
	ctx := a.coord.Context()
	log := a.log.Named("ingest")
	a.serveMetrics(ctx)

	c, err := a.codec()
	if err != nil {
		return err
	}

	st, release, err := a.openOptionalStore(ctx)
	if err != nil {
		return err
	}
	defer release()
	if st != nil {
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	seen := dedup.New(dedup.Options{Shards: a.cfg.Dedup.Shards, TTL: a.cfg.Dedup.TTL})
	defer seen.Close()
	ing := &ingestor{log: log, store: st, seen: seen, app: a}

	pipes := []struct {
		name string
		kind records.Kind
	}{
		{a.cfg.Pipes.Claim, records.KindClaim},
		{a.cfg.Pipes.Diagnose, records.KindDiagnose},
	}
	subs := make([]*subscriber.Subscriber, 0, len(pipes))
	for _, p := range pipes {
		sub, err := subscriber.New(p.name, subscriber.Options{
			Transport: a.transport,
			Codec:     c,
			Framer:    a.framer(),
			Logger:    a.log,
			Metrics:   a.metrics,
		})
		if err != nil {
			return err
		}
		if err := sub.RunDetached(ctx, ing.handle, p.kind, p.name); err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	for _, sub := range subs {
		if err := sub.BlockUntilExit(); err != nil {
			a.unitFailed(log, "ingest", sub.Name(), err)
		}
	}
	stats := seen.Metrics()
	log.Info("ingest finished", zap.Uint64("checked", stats.Checks), zap.Uint64("duplicates", stats.Hits))
	return nil
}

type ingestor struct {
	log   *zap.Logger
	store *store.Store
	seen  *dedup.Set
	app   *App
}

// handle is the subscriber callback. args are (records.Kind, channel name).
func (i *ingestor) handle(ctx context.Context, rec subscriber.Record, args ...any) error {
	if len(args) != 2 {
		return fmt.Errorf("ingest handler wants (kind, channel), got %d args", len(args))
	}
	// a record already read is stored even if shutdown arrives meanwhile
	ctx = context.WithoutCancel(ctx)
	kind, _ := args[0].(records.Kind)
	channel, _ := args[1].(string)

	var (
		id       uint64
		inserted = true
		err      error
	)
	switch kind {
	case records.KindClaim:
		var c records.Claim
		if c, err = records.ClaimFrom(rec); err != nil {
			return err
		}
		id = c.ID
		if i.dropped(channel, kind, id) {
			return nil
		}
		if i.store != nil {
			inserted, err = i.store.InsertClaim(ctx, c)
		}
	case records.KindDiagnose:
		var d records.Diagnose
		if d, err = records.DiagnoseFrom(rec); err != nil {
			return err
		}
		id = d.ID
		if i.dropped(channel, kind, id) {
			return nil
		}
		if i.store != nil {
			inserted, err = i.store.InsertDiagnose(ctx, d)
		}
	default:
		return fmt.Errorf("ingest: unknown record kind %q", kind)
	}
	if err != nil {
		return err
	}
	if !inserted {
		i.app.metrics.DuplicateDropped(channel)
		i.log.Debug("duplicate already stored", zap.String("channel", channel), zap.Uint64("id", id))
		return nil
	}
	i.log.Info("ingested", zap.String("channel", channel), zap.String("kind", string(kind)), zap.Any("record", rec))
	return nil
}

func (i *ingestor) dropped(channel string, kind records.Kind, id uint64) bool {
	if !i.seen.Seen(fmt.Sprintf("%s:%d", kind, id)) {
		return false
	}
	i.app.metrics.DuplicateDropped(channel)
	i.log.Debug("duplicate dropped", zap.String("channel", channel), zap.Uint64("id", id))
	return true
}

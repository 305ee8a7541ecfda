package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"fifobus/pkg/publisher"
	"fifobus/pkg/records"
)

// Publish creates both pipes, publishes claims and diagnoses into them until
// shutdown or until their subscribers leave, then removes the pipes. With a
// store configured the record tables are truncated on shutdown. Only setup
// failures are returned; a publisher that stops with an error is logged and
// counted.
func (a *App) Publish() error {
	ctx := a.coord.Context()
	log := a.log.Named("publish")
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
		a.coord.OnShutdown("truncate-tables", func(ctx context.Context) error {
			return st.Truncate(ctx)
		})
	}

	pipes := []struct {
		name string
		kind records.Kind
	}{
		{a.cfg.Pipes.Claim, records.KindClaim},
		{a.cfg.Pipes.Diagnose, records.KindDiagnose},
	}

	log.Info("creating pipes")
	for _, p := range pipes {
		if err := a.transport.Create(p.name); err != nil {
			return err
		}
		defer func(name string) {
			if err := a.transport.Remove(name); err != nil {
				log.Warn("remove pipe", zap.String("channel", name), zap.Error(err))
			}
		}(p.name)
	}

	gen := records.NewGenerator(a.cfg.Publisher.DuplicateProb, a.src)
	var wg sync.WaitGroup
	for _, p := range pipes {
		pub, err := publisher.New(publisher.Options{
			Name:      p.name,
			Transport: a.transport,
			Interval:  a.cfg.Publisher.Interval,
			Generator: gen.Func(p.kind),
			Codec:     c,
			Framer:    a.framer(),
			Backoff:   a.cfg.Attach.BackOff(),
			Logger:    a.log,
			Metrics:   a.metrics,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		name := p.name
		go func() {
			defer wg.Done()
			if err := pub.Run(ctx); err != nil {
				a.unitFailed(log, "publish", name, err)
			}
		}()
	}
	wg.Wait()

	a.waitCleanup()
	log.Info("cleaning up")
	return nil
}

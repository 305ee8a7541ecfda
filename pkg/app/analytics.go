package app

import (
	"context"

	"go.uber.org/zap"

	"fifobus/pkg/scheduler"
	"fifobus/pkg/store"
)

// StatsTask is the name of the periodic analytics query.
const StatsTask = "claim-stats"

// Analytics runs the periodic stats query every analytics.interval until
// shutdown.
func (a *App) Analytics() error {
	ctx := a.coord.Context()
	log := a.log.Named("analytics")
	a.serveMetrics(ctx)

	st, release, err := a.openOptionalStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	sched := scheduler.New(ctx, scheduler.WithLogger(a.log), scheduler.WithMetrics(a.metrics))
	if err := sched.Schedule(StatsTask, a.cfg.Analytics.Interval, statsQuery(log), st); err != nil {
		return err
	}
	sched.WaitUntilShutdown()
	return nil
}

// statsQuery logs aggregates from the store passed as the first argument. A
// nil store only logs that analytics are idle.
func statsQuery(log *zap.Logger) scheduler.TaskFunc {
	return func(ctx context.Context, args ...any) error {
		var st *store.Store
		if len(args) > 0 {
			st, _ = args[0].(*store.Store)
		}
		if st == nil {
			log.Info("scheduled run without a store")
			return nil
		}
		stats, err := st.ClaimStats(ctx)
		if err != nil {
			return err
		}
		log.Info("claim stats",
			zap.Int64("claims", stats.Claims),
			zap.Int64("diagnoses", stats.Diagnoses),
			zap.Int64("patients", stats.Patients),
			zap.Int64("revenue", stats.Revenue))
		return nil
	}
}

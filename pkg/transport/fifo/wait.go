package fifo

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// waitExists returns once the channel exists. It watches the parent directory
// for create events and also re-stats on every poll tick, so a missed event or
// a directory that does not exist yet only delays detection by one tick.
func waitExists(ctx context.Context, t *Transport, name string) error {
	path := t.Path(name)
	log := t.Logger.With(zap.String("channel", path))

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w, err := fsnotify.NewWatcher(); err != nil {
		log.Debug("fsnotify unavailable, polling", zap.Error(err))
	} else {
		defer w.Close()
		if err := w.Add(filepath.Dir(path)); err != nil {
			log.Debug("cannot watch channel directory, polling", zap.Error(err))
		} else {
			events, errs = w.Events, w.Errors
		}
	}

	tick := time.NewTicker(t.pollInterval())
	defer tick.Stop()
	for {
		ok, err := t.Exists(name)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, open := <-events:
			if !open {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(path) && ev.Has(fsnotify.Create) {
				log.Debug("channel created")
			}
		case err, open := <-errs:
			if !open {
				errs = nil
				continue
			}
			log.Debug("watch error", zap.Error(err))
		case <-tick.C:
		}
	}
}

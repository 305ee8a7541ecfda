// Package fifo implements transport.Transport on POSIX named pipes.
//
// Both ends are opened with O_NONBLOCK so no call ever parks a goroutine in
// the kernel: opening the write end with no reader fails with ENXIO, reads on
// an empty pipe fail with EAGAIN, and callers retry while checking shutdown.
package fifo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"fifobus/pkg/transport"
)

var (
	// ErrResourceUnavailable means the channel could not be created or opened
	// for a reason other than a missing peer.
	ErrResourceUnavailable = errors.New("fifo: resource unavailable")
	// ErrNotFIFO is returned when the channel path exists but is not a named pipe.
	ErrNotFIFO = errors.New("fifo: path exists and is not a named pipe")
)

// DefaultPollInterval is the stat-poll period used by WaitReady when no
// filesystem notification arrives.
const DefaultPollInterval = 250 * time.Millisecond

// Transport resolves channel names relative to Dir.
type Transport struct {
	Dir          string
	Mode         os.FileMode
	PollInterval time.Duration
	Logger       *zap.Logger
}

// New returns a Transport rooted at dir.
func New(dir string, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{Dir: dir, Mode: 0o600, PollInterval: DefaultPollInterval, Logger: logger}
}

func (t *Transport) Kind() transport.Kind { return transport.KindFIFO }

// Path returns the filesystem path for a channel name. Absolute names are used as is.
func (t *Transport) Path(name string) string {
	if filepath.IsAbs(name) || t.Dir == "" {
		return name
	}
	return filepath.Join(t.Dir, name)
}

// Create makes the named pipe. A stale pipe at the same path is removed first;
// any other kind of file is left alone and reported as ErrNotFIFO.
func (t *Transport) Create(name string) error {
	path := t.Path(name)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", ErrResourceUnavailable, dir, err)
		}
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%w: %s", ErrNotFIFO, path)
		}
		t.Logger.Debug("removing stale channel", zap.String("channel", path))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("%w: remove stale %s: %v", ErrResourceUnavailable, path, err)
		}
	}
	if err := mkfifo(path, t.mode()); err != nil {
		return fmt.Errorf("%w: mkfifo %s: %v", ErrResourceUnavailable, path, err)
	}
	return nil
}

// Remove deletes the named pipe if it exists.
func (t *Transport) Remove(name string) error {
	err := os.Remove(t.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove channel: %w", err)
	}
	return nil
}

// Exists reports whether a named pipe is present at the channel path.
func (t *Transport) Exists(name string) (bool, error) {
	fi, err := os.Lstat(t.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if fi.Mode()&fs.ModeNamedPipe == 0 {
		return false, fmt.Errorf("%w: %s", ErrNotFIFO, t.Path(name))
	}
	return true, nil
}

func (t *Transport) OpenSink(name string) (transport.Sink, error) {
	w, err := openWriter(t.Path(name))
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (t *Transport) OpenSource(name string) (transport.Source, error) {
	r, err := openReader(t.Path(name))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *Transport) WaitReady(ctx context.Context, name string) error {
	return waitExists(ctx, t, name)
}

func (t *Transport) mode() uint32 {
	if t.Mode == 0 {
		return 0o600
	}
	return uint32(t.Mode.Perm())
}

func (t *Transport) pollInterval() time.Duration {
	if t.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return t.PollInterval
}

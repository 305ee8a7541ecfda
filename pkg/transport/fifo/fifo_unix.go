//go:build unix

package fifo

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"fifobus/pkg/protocol"
)

func mkfifo(path string, mode uint32) error { return unix.Mkfifo(path, mode) }

func openFD(path string, flags int) (int, error) {
	for {
		fd, err := unix.Open(path, flags|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fd, err
	}
}

// classify maps errno values onto the protocol error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return protocol.ErrTransientUnavailable
	case errors.Is(err, unix.EPIPE):
		return protocol.ErrBrokenPeer
	case errors.Is(err, unix.EBADF):
		return protocol.ErrChannelClosed
	default:
		return err
	}
}

type handle struct {
	path string
	mu   sync.Mutex
	fd   int
}

func (h *handle) Name() string { return h.path }

// acquire returns the fd or ErrChannelClosed. The lock is only held for the
// duration of one syscall.
func (h *handle) acquire() (int, func(), error) {
	h.mu.Lock()
	if h.fd < 0 {
		h.mu.Unlock()
		return -1, nil, protocol.ErrChannelClosed
	}
	return h.fd, h.mu.Unlock, nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	if err != nil {
		return fmt.Errorf("close %s: %w", h.path, err)
	}
	return nil
}

// writer is the non-blocking write end of a named pipe.
type writer struct{ handle }

func openWriter(path string) (*writer, error) {
	fd, err := openFD(path, unix.O_WRONLY)
	switch {
	case err == nil:
		return &writer{handle{path: path, fd: fd}}, nil
	case errors.Is(err, unix.ENXIO):
		return nil, fmt.Errorf("open %s for write: %w", path, protocol.ErrTransientUnavailable)
	case errors.Is(err, unix.ENOENT):
		return nil, fmt.Errorf("open %s for write: %w: %v", path, ErrResourceUnavailable, err)
	default:
		return nil, fmt.Errorf("open %s for write: %w", path, err)
	}
}

func (w *writer) Write(p []byte) (int, error) {
	fd, release, err := w.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := unix.Write(fd, p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

// reader is the non-blocking read end of a named pipe.
//
// A FIFO read returns 0 both before any writer has opened the pipe and after
// the last writer closed it. EAGAIN is only reported while a writer is
// attached, so the first EAGAIN or data byte marks the pipe as attached and
// later 0-byte reads are a real EOF.
//
// A writer that opens and closes again before the first Read leaves no trace.
// Such a pipe is detected once its path is unlinked or replaced: no writer can
// reach the opened inode any more, so the 0-byte read is reported as EOF.
type reader struct {
	handle
	attached bool
	dev      uint64
	ino      uint64
}

func openReader(path string) (*reader, error) {
	fd, err := openFD(path, unix.O_RDONLY)
	switch {
	case err == nil:
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		return &reader{handle: handle{path: path, fd: fd}, dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
	case errors.Is(err, unix.ENOENT):
		return nil, fmt.Errorf("open %s for read: %w: %v", path, ErrResourceUnavailable, err)
	default:
		return nil, fmt.Errorf("open %s for read: %w", path, err)
	}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	fd, release, err := r.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := unix.Read(fd, p)
	switch {
	case err != nil:
		err = classify(err)
		if errors.Is(err, protocol.ErrTransientUnavailable) {
			r.attached = true
		}
		return 0, err
	case n > 0:
		r.attached = true
		return n, nil
	case r.attached, r.orphaned():
		return 0, io.EOF
	default:
		return 0, protocol.ErrTransientUnavailable
	}
}

// orphaned reports whether the path no longer leads to the opened pipe.
func (r *reader) orphaned() bool {
	var st unix.Stat_t
	if err := unix.Stat(r.path, &st); err != nil {
		return errors.Is(err, unix.ENOENT)
	}
	return uint64(st.Dev) != r.dev || uint64(st.Ino) != r.ino
}

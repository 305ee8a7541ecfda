package mem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"fifobus/pkg/protocol"
	"fifobus/pkg/transport"
)

// DefaultCapacity mirrors the default Linux pipe buffer.
const DefaultCapacity = 64 << 10

// Transport is an in-process transport with FIFO semantics: a sink cannot be
// opened until a source is attached, writes fail once every source is gone,
// and reads see EOF only after a writer has come and gone. Useful for tests and
// platforms without named pipes.
type Transport struct {
	mu       sync.Mutex
	pipes    map[string]*pipe
	capacity int
	notify   chan struct{}
}

// New returns a mem transport whose channels buffer up to capacity bytes
// (DefaultCapacity when capacity <= 0).
func New(capacity int) *Transport {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Transport{pipes: make(map[string]*pipe), capacity: capacity, notify: make(chan struct{})}
}

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Create(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pipes[name] = &pipe{name: name, capacity: t.capacity}
	close(t.notify)
	t.notify = make(chan struct{})
	return nil
}

func (t *Transport) Remove(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pipes, name)
	return nil
}

func (t *Transport) WaitReady(ctx context.Context, name string) error {
	for {
		t.mu.Lock()
		_, ok := t.pipes[name]
		ch := t.notify
		t.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (t *Transport) lookup(name string) (*pipe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pipes[name]
	if p == nil {
		return nil, fmt.Errorf("mem: no such channel %q", name)
	}
	return p, nil
}

func (t *Transport) OpenSink(name string) (transport.Sink, error) {
	p, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readers == 0 {
		return nil, fmt.Errorf("mem: open %s: %w", name, protocol.ErrTransientUnavailable)
	}
	p.writers++
	return &sink{p: p}, nil
}

func (t *Transport) OpenSource(name string) (transport.Source, error) {
	p, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers++
	return &source{p: p}, nil
}

type pipe struct {
	name     string
	capacity int

	mu      sync.Mutex
	buf     bytes.Buffer
	readers int
	writers int
}

type sink struct {
	p      *pipe
	once   sync.Once
	closed bool
}

func (s *sink) Name() string { return s.p.name }

func (s *sink) Write(b []byte) (int, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.closed {
		return 0, protocol.ErrChannelClosed
	}
	if s.p.readers == 0 {
		return 0, protocol.ErrBrokenPeer
	}
	room := s.p.capacity - s.p.buf.Len()
	if room <= 0 {
		return 0, protocol.ErrTransientUnavailable
	}
	if len(b) > room {
		b = b[:room]
	}
	return s.p.buf.Write(b)
}

func (s *sink) Close() error {
	s.once.Do(func() {
		s.p.mu.Lock()
		s.closed = true
		s.p.writers--
		s.p.mu.Unlock()
	})
	return nil
}

type source struct {
	p        *pipe
	once     sync.Once
	closed   bool
	attached bool
}

func (s *source) Name() string { return s.p.name }

func (s *source) Read(b []byte) (int, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.closed {
		return 0, protocol.ErrChannelClosed
	}
	if s.p.buf.Len() > 0 {
		s.attached = true
		n, err := s.p.buf.Read(b)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return n, err
	}
	if s.p.writers > 0 {
		s.attached = true
		return 0, protocol.ErrTransientUnavailable
	}
	if s.attached {
		return 0, io.EOF
	}
	return 0, protocol.ErrTransientUnavailable
}

func (s *source) Close() error {
	s.once.Do(func() {
		s.p.mu.Lock()
		s.closed = true
		s.p.readers--
		s.p.mu.Unlock()
	})
	return nil
}

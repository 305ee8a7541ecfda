package transport

import (
	"context"
	"io"
)

// Kind identifies the channel implementation.
type Kind int

const (
	KindUnknown Kind = iota
	KindFIFO
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindFIFO:
		return "fifo"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// Source is the read end of a unidirectional byte channel.
// Read returns protocol.ErrTransientUnavailable (or 0, nil) while no data is
// available yet and io.EOF once the writer has gone away.
// Exactly one goroutine owns a Source.
type Source interface {
	io.ReadCloser
	Name() string
}

// Sink is the write end of a unidirectional byte channel.
// Write may accept fewer bytes than offered; it returns
// protocol.ErrTransientUnavailable when the channel is full and
// protocol.ErrBrokenPeer once the reader has gone away.
// Exactly one goroutine owns a Sink.
type Sink interface {
	io.WriteCloser
	Name() string
}

// Transport creates, opens and removes named channels.
type Transport interface {
	Kind() Kind
	// Create makes the named channel, replacing a stale one. Only the owning
	// (publishing) side calls Create.
	Create(name string) error
	// Remove deletes the named channel. Removing a missing channel is not an error.
	Remove(name string) error
	// WaitReady blocks until the named channel exists or ctx is done.
	WaitReady(ctx context.Context, name string) error
	// OpenSink opens the write end without blocking. It fails with
	// protocol.ErrTransientUnavailable while no reader is attached.
	OpenSink(name string) (Sink, error)
	// OpenSource opens the read end without blocking.
	OpenSource(name string) (Source, error)
}

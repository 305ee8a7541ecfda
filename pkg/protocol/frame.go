// Package protocol implements the length-prefixed framing used on fifobus
// channels.
//
// Frame layout:
//
//	0  ..31  Length  big-endian unsigned, 32 bytes
//	32 ..    Payload Length bytes
//
// The prefix is deliberately wider than any payload we produce; both ends agree
// on LengthPrefixSize out of band. Payload bytes are never scanned for
// delimiters.
package protocol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// LengthPrefixSize is the fixed width of the frame length field.
	LengthPrefixSize = 32
	// DefaultMaxFrameSize bounds the payload length accepted by Framer.
	DefaultMaxFrameSize = 16 << 20
	// DefaultPollInterval is the wait between retries on a channel that has no
	// data or no room yet.
	DefaultPollInterval = 5 * time.Millisecond
)

// Framer encodes and decodes frames over raw byte channels. The zero value uses
// DefaultMaxFrameSize and DefaultPollInterval.
type Framer struct {
	// MaxFrameSize rejects payloads above this many bytes on both encode and
	// decode so a writer never emits a frame its reader refuses.
	MaxFrameSize int
	// PollInterval is slept after a 0-byte or transient read/write.
	PollInterval time.Duration
}

// Encode returns the complete frame for payload using the default Framer.
func Encode(payload []byte) ([]byte, error) { return Framer{}.Encode(payload) }

// WriteFrame writes one frame to w using the default Framer.
func WriteFrame(ctx context.Context, w io.Writer, payload []byte) error {
	return Framer{}.WriteFrame(ctx, w, payload)
}

// ReadFrame reads one frame from r using the default Framer.
func ReadFrame(ctx context.Context, r io.Reader) ([]byte, error) {
	return Framer{}.ReadFrame(ctx, r)
}

func (f Framer) maxFrameSize() int {
	if f.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxFrameSize
}

func (f Framer) pollInterval() time.Duration {
	if f.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return f.PollInterval
}

// Encode prepends the length prefix to payload.
func (f Framer) Encode(payload []byte) ([]byte, error) {
	prefix, err := f.encodeLength(len(payload))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, LengthPrefixSize+len(payload))
	out = append(out, prefix...)
	return append(out, payload...), nil
}

func (f Framer) encodeLength(n int) ([]byte, error) {
	if n > f.maxFrameSize() {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, n, f.maxFrameSize())
	}
	buf := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint64(buf[LengthPrefixSize-8:], uint64(n))
	return buf, nil
}

// DecodeLength parses a length prefix. Values that cannot be held in memory or
// exceed MaxFrameSize are malformed.
func (f Framer) DecodeLength(prefix []byte) (int, error) {
	if len(prefix) != LengthPrefixSize {
		return 0, fmt.Errorf("%w: prefix is %d bytes, want %d", ErrMalformedFrame, len(prefix), LengthPrefixSize)
	}
	for _, b := range prefix[:LengthPrefixSize-8] {
		if b != 0 {
			return 0, fmt.Errorf("%w: length exceeds 64 bits", ErrMalformedFrame)
		}
	}
	n := binary.BigEndian.Uint64(prefix[LengthPrefixSize-8:])
	if n > uint64(f.maxFrameSize()) {
		return 0, fmt.Errorf("%w: length %d exceeds %d", ErrMalformedFrame, n, f.maxFrameSize())
	}
	return int(n), nil
}

// WriteFrame writes the length prefix and then the payload, each to
// completion. Short writes continue from where they stopped and transient
// errors (pipe full) are retried. ctx is only honored until the first byte
// goes out; a started frame is always finished unless the peer disappears.
func (f Framer) WriteFrame(ctx context.Context, w io.Writer, payload []byte) error {
	prefix, err := f.encodeLength(len(payload))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.writeFull(ctx, w, prefix, true); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if err := f.writeFull(ctx, w, payload, false); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// writeFull writes buf to completion. When frameStart is set and nothing has
// been accepted yet, waiting for room is cut short by ctx.
func (f Framer) writeFull(ctx context.Context, w io.Writer, buf []byte, frameStart bool) error {
	for off := 0; off < len(buf); {
		n, err := w.Write(buf[off:])
		off += n
		switch {
		case err == nil:
			if n > 0 {
				continue
			}
		case errors.Is(err, ErrTransientUnavailable):
		default:
			return err
		}
		if off == len(buf) {
			return nil
		}
		if frameStart && off == 0 {
			if err := sleepCtx(ctx, f.pollInterval()); err != nil {
				return err
			}
			continue
		}
		time.Sleep(f.pollInterval())
	}
	return nil
}

// ReadFrame assembles exactly LengthPrefixSize bytes, decodes the length and
// then assembles exactly that many payload bytes. Reads returning 0 bytes or
// ErrTransientUnavailable are retried.
//
// io.EOF before the first byte of a frame yields ErrBrokenPeer; EOF inside a
// frame is ErrMalformedFrame. ctx cancellation is honored only while waiting
// for the first byte of a frame.
func (f Framer) ReadFrame(ctx context.Context, r io.Reader) ([]byte, error) {
	prefix := make([]byte, LengthPrefixSize)
	if err := f.readFull(ctx, r, prefix, true); err != nil {
		return nil, err
	}
	n, err := f.DecodeLength(prefix)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if err := f.readFull(ctx, r, payload, false); err != nil {
		return nil, err
	}
	return payload, nil
}

func (f Framer) readFull(ctx context.Context, r io.Reader, buf []byte, frameStart bool) error {
	for off := 0; off < len(buf); {
		n, err := r.Read(buf[off:])
		off += n
		idle := frameStart && off == 0
		switch {
		case err == nil:
			if n > 0 {
				continue
			}
		case errors.Is(err, io.EOF):
			if off == len(buf) {
				return nil
			}
			if idle {
				return ErrBrokenPeer
			}
			return fmt.Errorf("%w: truncated after %d of %d bytes", ErrMalformedFrame, off, len(buf))
		case errors.Is(err, ErrTransientUnavailable):
		default:
			return err
		}
		if off == len(buf) {
			return nil
		}
		if idle {
			if err := sleepCtx(ctx, f.pollInterval()); err != nil {
				return err
			}
			continue
		}
		time.Sleep(f.pollInterval())
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package stream binds a channel end to a Framer and a payload codec so
// callers send and receive values instead of raw frames.
package stream

import (
	"context"
	"fmt"
	"io"

	"fifobus/pkg/protocol"
	"fifobus/pkg/protocol/codec"
)

// Record is the decoded form of one message on the subscriber side.
type Record = map[string]any

// Writer sends one value per frame.
type Writer struct {
	w      io.Writer
	framer protocol.Framer
	codec  codec.Codec
}

// NewWriter returns a Writer over w. A nil c selects JSON.
func NewWriter(w io.Writer, framer protocol.Framer, c codec.Codec) *Writer {
	if c == nil {
		c = codec.JSON()
	}
	return &Writer{w: w, framer: framer, codec: c}
}

// Send marshals v and writes it as a single frame. It returns the payload size.
func (w *Writer) Send(ctx context.Context, v any) (int, error) {
	payload, err := w.codec.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("%s marshal: %w", w.codec.Name(), err)
	}
	if err := w.framer.WriteFrame(ctx, w.w, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// Reader receives one value per frame.
type Reader struct {
	r      io.Reader
	framer protocol.Framer
	codec  codec.Codec
}

// NewReader returns a Reader over r. A nil c selects JSON.
func NewReader(r io.Reader, framer protocol.Framer, c codec.Codec) *Reader {
	if c == nil {
		c = codec.JSON()
	}
	return &Reader{r: r, framer: framer, codec: c}
}

// RecvRaw reads the next frame without decoding it.
func (r *Reader) RecvRaw(ctx context.Context) ([]byte, error) {
	return r.framer.ReadFrame(ctx, r.r)
}

// Recv reads the next frame and decodes it into a Record. Undecodable
// payloads are reported as protocol.ErrMalformedFrame.
func (r *Reader) Recv(ctx context.Context) (Record, int, error) {
	payload, err := r.RecvRaw(ctx)
	if err != nil {
		return nil, 0, err
	}
	rec := Record{}
	if err := r.codec.Unmarshal(payload, &rec); err != nil {
		return nil, len(payload), fmt.Errorf("%w: %s decode: %v", protocol.ErrMalformedFrame, r.codec.Name(), err)
	}
	return rec, len(payload), nil
}

package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted Read result: data, an empty read, or a transient error.
type step struct {
	data      []byte
	transient bool
}

// scriptedReader replays steps and then reports io.EOF.
type scriptedReader struct {
	steps []step
	reads int
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	r.reads++
	for len(r.steps) > 0 {
		s := &r.steps[0]
		if s.transient {
			r.steps = r.steps[1:]
			return 0, ErrTransientUnavailable
		}
		if len(s.data) == 0 {
			r.steps = r.steps[1:]
			return 0, nil
		}
		n := copy(p, s.data)
		s.data = s.data[n:]
		if len(s.data) == 0 {
			r.steps = r.steps[1:]
		}
		return n, nil
	}
	return 0, io.EOF
}

// chunked splits b into pieces of random non-zero size, with stalls in between.
func chunked(rng *rand.Rand, b []byte) []step {
	var out []step
	for len(b) > 0 {
		n := 1 + rng.IntN(len(b))
		out = append(out, step{data: append([]byte(nil), b[:n]...)})
		switch rng.IntN(3) {
		case 0:
			out = append(out, step{transient: true})
		case 1:
			out = append(out, step{})
		}
		b = b[n:]
	}
	return out
}

var fastFramer = Framer{PollInterval: time.Microsecond}

func TestEncodeLayout(t *testing.T) {
	frame, err := Encode([]byte("hello"))
	require.NoError(t, err)
	require.Len(t, frame, LengthPrefixSize+5)
	assert.Equal(t, make([]byte, LengthPrefixSize-1), frame[:LengthPrefixSize-1])
	assert.Equal(t, byte(5), frame[LengthPrefixSize-1])
	assert.Equal(t, []byte("hello"), frame[LengthPrefixSize:])
}

func TestRoundTripSizes(t *testing.T) {
	for _, size := range []int{0, 1, 31, 32, 33, 255, 256, 4096, 70000} {
		payload := bytes.Repeat([]byte{0x5a}, size)
		frame, err := Encode(payload)
		require.NoError(t, err)

		got, err := fastFramer.ReadFrame(context.Background(), bytes.NewReader(frame))
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, payload, got, "size %d", size)
	}
}

func TestReadFramePartialChunks(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	payload := []byte(`{"id":7,"patient_id":12,"code":"03003","price":5}`)
	frame, err := Encode(payload)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		r := &scriptedReader{steps: chunked(rng, frame)}
		got, err := fastFramer.ReadFrame(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestReadFrameSequencePreservesOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	var stream []byte
	var want [][]byte
	for i := 0; i < 20; i++ {
		p := []byte{byte(i), byte(i * 3)}
		want = append(want, p)
		frame, err := Encode(p)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}
	r := &scriptedReader{steps: chunked(rng, stream)}
	for i := range want {
		got, err := fastFramer.ReadFrame(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, want[i], got)
	}
	_, err := fastFramer.ReadFrame(context.Background(), r)
	assert.ErrorIs(t, err, ErrBrokenPeer)
}

func TestReadFrameEOF(t *testing.T) {
	_, err := fastFramer.ReadFrame(context.Background(), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrBrokenPeer)

	frame, err := Encode([]byte("truncated"))
	require.NoError(t, err)

	_, err = fastFramer.ReadFrame(context.Background(), bytes.NewReader(frame[:10]))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = fastFramer.ReadFrame(context.Background(), bytes.NewReader(frame[:len(frame)-2]))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameRejectsHugeLength(t *testing.T) {
	prefix := make([]byte, LengthPrefixSize)
	prefix[0] = 1
	_, err := fastFramer.ReadFrame(context.Background(), bytes.NewReader(prefix))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	small := Framer{MaxFrameSize: 4, PollInterval: time.Microsecond}
	frame, err := Encode([]byte("12345"))
	require.NoError(t, err)
	_, err = small.ReadFrame(context.Background(), bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEncodePayloadTooLarge(t *testing.T) {
	small := Framer{MaxFrameSize: 4}
	_, err := small.Encode([]byte("12345"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	var buf bytes.Buffer
	err = small.WriteFrame(context.Background(), &buf, []byte("12345"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Zero(t, buf.Len(), "nothing may be written for a rejected payload")
}

func TestReadFrameCancelWhileIdle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := &scriptedReader{}
	for i := 0; i < 1_000_000; i++ {
		r.steps = append(r.steps, step{transient: true})
	}
	_, err := Framer{PollInterval: time.Millisecond}.ReadFrame(ctx, r)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadFrameFinishesStartedFrameAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frame, err := Encode([]byte("in-flight"))
	require.NoError(t, err)

	r := &scriptedReader{steps: []step{{data: frame[:3]}, {transient: true}, {transient: true}, {data: frame[3:]}}}
	cancel()
	got, err := fastFramer.ReadFrame(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []byte("in-flight"), got)
}

// stingyWriter accepts at most max bytes per call and stalls every other call.
type stingyWriter struct {
	buf   bytes.Buffer
	max   int
	calls int
	fail  error
}

func (w *stingyWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.fail != nil {
		return 0, w.fail
	}
	if w.calls%2 == 0 {
		return 0, ErrTransientUnavailable
	}
	if len(p) > w.max {
		p = p[:w.max]
	}
	return w.buf.Write(p)
}

func TestWriteFramePartialWrites(t *testing.T) {
	payload := bytes.Repeat([]byte("abc"), 50)
	w := &stingyWriter{max: 7}
	require.NoError(t, fastFramer.WriteFrame(context.Background(), w, payload))

	got, err := fastFramer.ReadFrame(context.Background(), bytes.NewReader(w.buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteFrameBrokenPeer(t *testing.T) {
	w := &stingyWriter{max: 7, fail: ErrBrokenPeer}
	err := fastFramer.WriteFrame(context.Background(), w, []byte("x"))
	assert.True(t, errors.Is(err, ErrBrokenPeer))
	assert.True(t, IsTerminal(err))
}

func TestWriteFrameCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := fastFramer.WriteFrame(ctx, &buf, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

// gatedWriter accepts a few bytes, then reports a full pipe until opened.
type gatedWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	first int
	open  bool
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() < w.first {
		p = p[:min(len(p), w.first-w.buf.Len())]
		return w.buf.Write(p)
	}
	if !w.open {
		return 0, ErrTransientUnavailable
	}
	return w.buf.Write(p)
}

func (w *gatedWriter) release() {
	w.mu.Lock()
	w.open = true
	w.mu.Unlock()
}

func TestWriteFrameFinishesStartedFrameAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &gatedWriter{first: 3}
	done := make(chan error, 1)
	go func() { done <- fastFramer.WriteFrame(ctx, w, []byte("payload")) }()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.buf.Len() == w.first
	}, time.Second, time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("started frame abandoned: %v", err)
	default:
	}
	w.release()
	require.NoError(t, <-done)

	got, err := fastFramer.ReadFrame(context.Background(), bytes.NewReader(w.buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

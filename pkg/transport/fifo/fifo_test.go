//go:build unix

package fifo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifobus/pkg/protocol"
)

var framer = protocol.Framer{PollInterval: time.Millisecond}

func newTransport(t *testing.T) *Transport {
	t.Helper()
	tr := New(t.TempDir(), nil)
	tr.PollInterval = 10 * time.Millisecond
	return tr
}

func TestCreateReplacesStalePipe(t *testing.T) {
	tr := newTransport(t)
	require.NoError(t, tr.Create("claims"))
	require.NoError(t, tr.Create("claims"))

	ok, err := tr.Exists("claims")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tr.Remove("claims"))
	require.NoError(t, tr.Remove("claims"))
	ok, err = tr.Exists("claims")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateRefusesRegularFile(t *testing.T) {
	tr := newTransport(t)
	require.NoError(t, os.WriteFile(filepath.Join(tr.Dir, "data"), []byte("keep"), 0o600))
	err := tr.Create("data")
	assert.ErrorIs(t, err, ErrNotFIFO)

	b, err := os.ReadFile(filepath.Join(tr.Dir, "data"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(b))
}

func TestOpenSinkWithoutReaderIsTransient(t *testing.T) {
	tr := newTransport(t)
	require.NoError(t, tr.Create("claims"))

	_, err := tr.OpenSink("claims")
	assert.ErrorIs(t, err, protocol.ErrTransientUnavailable)

	_, err = tr.OpenSink("missing")
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestFramesFlowInOrder(t *testing.T) {
	tr := newTransport(t)
	require.NoError(t, tr.Create("claims"))

	src, err := tr.OpenSource("claims")
	require.NoError(t, err)
	defer src.Close()

	// No writer yet: reads are transient, not EOF.
	_, err = src.Read(make([]byte, 8))
	assert.ErrorIs(t, err, protocol.ErrTransientUnavailable)

	sink, err := tr.OpenSink("claims")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, framer.WriteFrame(ctx, sink, []byte{byte(i)}))
	}
	for i := 0; i < 10; i++ {
		got, err := framer.ReadFrame(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}

	require.NoError(t, sink.Close())
	_, err = framer.ReadFrame(ctx, src)
	assert.ErrorIs(t, err, protocol.ErrBrokenPeer)
}

func TestWriteAfterReaderClosedIsBrokenPeer(t *testing.T) {
	tr := newTransport(t)
	require.NoError(t, tr.Create("claims"))

	src, err := tr.OpenSource("claims")
	require.NoError(t, err)
	sink, err := tr.OpenSink("claims")
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, src.Close())

	err = framer.WriteFrame(context.Background(), sink, []byte("late"))
	assert.ErrorIs(t, err, protocol.ErrBrokenPeer)
}

func TestWriterGoneBeforeFirstRead(t *testing.T) {
	for _, tc := range []struct {
		name   string
		unlink func(tr *Transport) error
	}{
		{"removed", func(tr *Transport) error { return tr.Remove("claims") }},
		{"recreated", func(tr *Transport) error { return tr.Create("claims") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTransport(t)
			require.NoError(t, tr.Create("claims"))
			src, err := tr.OpenSource("claims")
			require.NoError(t, err)
			defer src.Close()

			sink, err := tr.OpenSink("claims")
			require.NoError(t, err)
			require.NoError(t, sink.Close())

			// the pipe is still reachable, so a writer may come back
			_, err = src.Read(make([]byte, 1))
			require.ErrorIs(t, err, protocol.ErrTransientUnavailable)

			require.NoError(t, tc.unlink(tr))
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err = framer.ReadFrame(ctx, src)
			assert.ErrorIs(t, err, protocol.ErrBrokenPeer)
		})
	}
}

func TestClosedHandle(t *testing.T) {
	tr := newTransport(t)
	require.NoError(t, tr.Create("claims"))
	src, err := tr.OpenSource("claims")
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = src.Read(make([]byte, 1))
	assert.ErrorIs(t, err, protocol.ErrChannelClosed)
}

func TestWaitReady(t *testing.T) {
	tr := newTransport(t)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = tr.Create("late")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.WaitReady(ctx, "late"))
}

func TestWaitReadyMissingDirectory(t *testing.T) {
	tr := newTransport(t)
	name := filepath.Join("nested", "late")
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = tr.Create(name)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.WaitReady(ctx, name))
}

func TestWaitReadyHonorsCancel(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := tr.WaitReady(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

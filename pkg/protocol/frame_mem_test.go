package protocol_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifobus/pkg/protocol"
	"fifobus/pkg/transport/mem"
)

func TestWriteFrameCancelWhilePipeFull(t *testing.T) {
	tr := mem.New(protocol.LengthPrefixSize)
	require.NoError(t, tr.Create("full"))
	src, err := tr.OpenSource("full")
	require.NoError(t, err)
	defer src.Close()
	sink, err := tr.OpenSink("full")
	require.NoError(t, err)
	defer sink.Close()

	framer := protocol.Framer{PollInterval: time.Millisecond}
	require.NoError(t, framer.WriteFrame(context.Background(), sink, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- framer.WriteFrame(ctx, sink, []byte("blocked")) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("WriteFrame ignored cancellation on a full pipe")
	}

	// only the first frame is in the pipe
	got, err := framer.ReadFrame(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, got)
	buf := make([]byte, 1)
	n, err := src.Read(buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, protocol.ErrTransientUnavailable)
}

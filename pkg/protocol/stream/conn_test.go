package stream

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifobus/pkg/protocol"
	"fifobus/pkg/protocol/codec"
)

var framer = protocol.Framer{PollInterval: time.Microsecond}

func TestSendRecvEachCodec(t *testing.T) {
	reg := codec.NewRegistry()
	for _, name := range reg.Names() {
		t.Run(name, func(t *testing.T) {
			c, err := reg.Lookup(name)
			require.NoError(t, err)

			var buf bytes.Buffer
			w := NewWriter(&buf, framer, c)
			_, err = w.Send(context.Background(), map[string]any{"id": 1, "code": "03003"})
			require.NoError(t, err)
			_, err = w.Send(context.Background(), map[string]any{"id": 2, "code": "29001"})
			require.NoError(t, err)

			r := NewReader(&buf, framer, c)
			first, _, err := r.Recv(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "03003", first["code"])
			second, _, err := r.Recv(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "29001", second["code"])

			_, _, err = r.Recv(context.Background())
			assert.ErrorIs(t, err, protocol.ErrBrokenPeer)
		})
	}
}

func TestRecvUndecodablePayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, framer.WriteFrame(context.Background(), &buf, []byte("{not json")))

	_, n, err := NewReader(&buf, framer, nil).Recv(context.Background())
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
	assert.Equal(t, len("{not json"), n)
}

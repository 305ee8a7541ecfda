package protocol

import "errors"

// Channel error taxonomy. Transports map their OS level errors onto these so
// loops can classify failures with errors.Is.
var (
	// ErrTransientUnavailable means the peer is not attached yet or no data is
	// available right now. Callers retry.
	ErrTransientUnavailable = errors.New("channel temporarily unavailable")
	// ErrBrokenPeer means the remote end closed and no more data will arrive.
	ErrBrokenPeer = errors.New("channel peer closed")
	// ErrChannelClosed means the local handle was already closed.
	ErrChannelClosed = errors.New("channel closed")
	// ErrMalformedFrame reports an undecodable length prefix or a truncated frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPayloadTooLarge is returned by the encoder before anything is written.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// IsTerminal reports whether err means the channel can no longer be used.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrBrokenPeer) || errors.Is(err, ErrChannelClosed)
}

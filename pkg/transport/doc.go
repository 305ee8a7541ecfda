// Package transport defines the channel abstraction fifobus publishes over and
// provides an in-process implementation (mem). The named-pipe implementation
// lives in transport/fifo.
//
// Key concepts:
//   - Transport: creates/removes named channels and opens their ends
//   - Sink: non-blocking write end owned by one publisher
//   - Source: non-blocking read end owned by one subscriber
//
// Ends never block: callers see protocol.ErrTransientUnavailable and retry, so
// every loop can observe shutdown between attempts.
package transport

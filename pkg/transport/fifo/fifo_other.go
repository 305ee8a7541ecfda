//go:build !unix

package fifo

import (
	"errors"
	"fmt"

	"fifobus/pkg/transport"
)

var errUnsupported = fmt.Errorf("%w: named pipes are not supported on this platform", errors.ErrUnsupported)

func mkfifo(string, uint32) error { return errUnsupported }

func openWriter(string) (transport.Sink, error) { return nil, errUnsupported }

func openReader(string) (transport.Source, error) { return nil, errUnsupported }

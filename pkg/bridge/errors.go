package bridge

import (
	"errors"

	"presagebridge/pkg/bus"
	"presagebridge/pkg/handle"
)

var (
	ErrRuntimeDestroyed = errors.New("bridge: runtime destroyed")
	ErrNoLibrary        = errors.New("bridge: session library is required")
)

// Status codes reported across the C boundary.
const (
	StatusOK            = 0
	StatusInvalidHandle = 1
	StatusChannelClosed = 2
	StatusFailed        = 3
)

// Status maps an error returned by the runtime to a boundary status code.
func Status(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, handle.ErrInvalid), errors.Is(err, ErrRuntimeDestroyed):
		return StatusInvalidHandle
	case errors.Is(err, bus.ErrClosed):
		return StatusChannelClosed
	default:
		return StatusFailed
	}
}

package device

import (
	"errors"

	"github.com/nerrad567/feeder-core/internal/protocol"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDeviceID is returned when an id cannot be normalised.
	ErrInvalidDeviceID = protocol.ErrInvalidDeviceID
)

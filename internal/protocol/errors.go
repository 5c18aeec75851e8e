package protocol

import "errors"

// Domain errors for the protocol package.
var (
	// ErrInvalidDeviceID is returned when an id is not a number in 1..999.
	ErrInvalidDeviceID = errors.New("protocol: invalid device id")

	// ErrValidation is returned when a command field is out of range.
	// Values are never clamped.
	ErrValidation = errors.New("protocol: validation failed")

	// ErrUnsupported is returned when a command has no encoding for the
	// target device's protocol generation.
	ErrUnsupported = errors.New("protocol: unsupported on this device")
)

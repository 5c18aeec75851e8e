package command

import "errors"

var (
	// ErrInvalidTopic is returned for raw publishes outside the feeder tree.
	ErrInvalidTopic = errors.New("command: topic outside feeder tree")

	// ErrInvalidPayload is returned for raw publishes whose JSON-looking
	// body does not parse.
	ErrInvalidPayload = errors.New("command: payload is not valid JSON")
)

// Rejection reasons shown to the operator.
const (
	ReasonNotAuthorized = "not authorized"
	ReasonUnknownDevice = "unknown device"
)

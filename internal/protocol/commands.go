package protocol

import "fmt"

// Range limits shared by commands and decoded schedule data.
const (
	MinPortionGrams = 10
	MaxPortionGrams = 990

	// GramsPerSecond is the dispenser's linear rate: 10 g per second of
	// actuation.
	GramsPerSecond = 10

	// MaxFeedSeconds is the longest actuation the firmware accepts.
	MaxFeedSeconds = 60
)

// Command is an abstract operator intent addressed to one device.
//
// The set of variants is closed. Validate checks field ranges without
// looking at the target device.
type Command interface {
	Name() string
	Validate() error
	isCommand()
}

// FeedNow dispenses a portion immediately.
type FeedNow struct {
	PortionGrams int
}

// TestActuator runs the dispenser for the shortest possible time.
type TestActuator struct{}

// RequestStatus asks the device to report its status.
type RequestStatus struct{}

// UpdateSchedule changes one meal slot. It is submitted as configuration
// and only takes effect when the change notification comes back.
type UpdateSchedule struct {
	Index        int
	Hour         int
	Minute       int
	PortionGrams int
}

// Stop halts an in-progress feed.
type Stop struct{}

// Ping checks that the device's command loop is alive.
type Ping struct{}

// QueryConfig asks the central unit to republish a device's full state.
type QueryConfig struct{}

func (FeedNow) Name() string        { return "feed_now" }
func (TestActuator) Name() string   { return "test_actuator" }
func (RequestStatus) Name() string  { return "request_status" }
func (UpdateSchedule) Name() string { return "update_schedule" }
func (Stop) Name() string           { return "stop" }
func (Ping) Name() string           { return "ping" }
func (QueryConfig) Name() string    { return "query_config" }

func (FeedNow) isCommand()        {}
func (TestActuator) isCommand()   {}
func (RequestStatus) isCommand()  {}
func (UpdateSchedule) isCommand() {}
func (Stop) isCommand()           {}
func (Ping) isCommand()           {}
func (QueryConfig) isCommand()    {}

// Validate checks that the portion fits in one actuation of at most
// MaxFeedSeconds.
func (c FeedNow) Validate() error {
	maxGrams := MaxFeedSeconds * GramsPerSecond
	if c.PortionGrams < 1 || c.PortionGrams > maxGrams {
		return fmt.Errorf("%w: portion %d g outside 1..%d", ErrValidation, c.PortionGrams, maxGrams)
	}
	return nil
}

// Validate checks slot, time and portion ranges.
func (c UpdateSchedule) Validate() error {
	return validateSlot(c.Index, c.Hour, c.Minute, c.PortionGrams)
}

func (TestActuator) Validate() error  { return nil }
func (RequestStatus) Validate() error { return nil }
func (Stop) Validate() error          { return nil }
func (Ping) Validate() error          { return nil }
func (QueryConfig) Validate() error   { return nil }

// FeedSeconds converts grams to actuation seconds (10 g per second,
// minimum 1).
func FeedSeconds(grams int) int {
	return max(1, grams/GramsPerSecond)
}

// ValidateTime checks an hour/minute pair.
func ValidateTime(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: hour %d outside 0..23", ErrValidation, hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("%w: minute %d outside 0..59", ErrValidation, minute)
	}
	return nil
}

// ValidatePortion checks a scheduled portion against MinPortionGrams..MaxPortionGrams.
func ValidatePortion(grams int) error {
	if grams < MinPortionGrams || grams > MaxPortionGrams {
		return fmt.Errorf("%w: portion %d g outside %d..%d", ErrValidation, grams, MinPortionGrams, MaxPortionGrams)
	}
	return nil
}

func validateSlot(index, hour, minute, grams int) error {
	if index < 0 {
		return fmt.Errorf("%w: slot index %d is negative", ErrValidation, index)
	}
	if err := ValidateTime(hour, minute); err != nil {
		return err
	}
	return ValidatePortion(grams)
}

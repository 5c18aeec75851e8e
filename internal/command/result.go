package command

import (
	"github.com/nerrad567/feeder-core/internal/audit"
	"github.com/nerrad567/feeder-core/internal/protocol"
)

// Outcome classifies a command attempt.
type Outcome string

const (
	// OutcomeSent means the message was handed to the broker. It does not
	// mean the device acted on it.
	OutcomeSent Outcome = "sent"

	// OutcomeRejected means the intent failed a check and nothing was sent.
	OutcomeRejected Outcome = "rejected"

	// OutcomeUnavailable means the bus was down or the publish failed.
	OutcomeUnavailable Outcome = "unavailable"
)

// Result is the outcome of one intent.
type Result struct {
	Outcome   Outcome          `json:"outcome"`
	CommandID string           `json:"command_id"`
	Message   protocol.Message `json:"-"`
	Topic     string           `json:"topic,omitempty"`
	Reason    string           `json:"reason,omitempty"`

	// Err is the underlying cause for rejected and unavailable results.
	// Callers use errors.Is against the auth, device, protocol and mqtt
	// sentinels.
	Err error `json:"-"`
}

// Sent reports whether the message was published.
func (r Result) Sent() bool { return r.Outcome == OutcomeSent }

func sent(id string, msg protocol.Message) Result {
	return Result{Outcome: OutcomeSent, CommandID: id, Message: msg, Topic: msg.Topic}
}

func rejected(id, reason string, err error) Result {
	return Result{Outcome: OutcomeRejected, CommandID: id, Reason: reason, Err: err}
}

func unavailable(id string, msg protocol.Message, err error) Result {
	reason := "transport unavailable"
	if err != nil {
		reason = err.Error()
	}
	return Result{Outcome: OutcomeUnavailable, CommandID: id, Message: msg, Topic: msg.Topic, Reason: reason, Err: err}
}

func (o Outcome) auditOutcome() audit.Outcome {
	switch o {
	case OutcomeSent:
		return audit.OutcomeSent
	case OutcomeRejected:
		return audit.OutcomeRejected
	default:
		return audit.OutcomeUnavailable
	}
}

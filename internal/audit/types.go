package audit

import (
	"context"
	"errors"
	"time"
)

// Outcome is the result class of a command attempt.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "unavailable"
)

// ErrInvalidEntry is returned when an entry lacks a command or outcome.
var ErrInvalidEntry = errors.New("audit: invalid entry")

// Entry is a single command attempt.
type Entry struct {
	ID        string    `json:"id"`
	CommandID string    `json:"command_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Command   string    `json:"command"`
	Role      string    `json:"role,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID string  // optional
	Outcome  Outcome // optional
	Command  string  // optional
	Limit    int     // default 50, max 200
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Recorder accepts command attempts.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Repository is a Recorder that can also be queried.
type Repository interface {
	Recorder
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Nop discards every entry. Used when no database is configured.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, *Entry) error { return nil }

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/feeder-core/internal/audit"
	"github.com/nerrad567/feeder-core/internal/auth"
	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/feeder-core/internal/protocol"
)

// DefaultPendingTimeout is how long a schedule edit waits for its echo.
const DefaultPendingTimeout = 30 * time.Second

// Publisher is the outbound half of the bus transport.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Registry is the subset of the device registry the translator needs.
type Registry interface {
	Snapshot(id string) (device.Device, error)
	MarkPending(id string, index int, edit device.PendingEdit) error
	Now() time.Time
}

// Authorizer checks a principal's current role.
type Authorizer interface {
	Authorize(p auth.Principal, perm auth.Permission) error
}

// Metrics receives one call per attempt.
type Metrics interface {
	CommandIssued(command, outcome string)
}

// Telemetry receives one time-stamped point per attempt. It is optional.
type Telemetry interface {
	WriteCommand(deviceID, command, outcome string, at time.Time)
}

// Logger is the logging interface used by the translator.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Config holds the translator's collaborators. Publisher, Registry and
// Gate are required.
type Config struct {
	Publisher      Publisher
	Registry       Registry
	Gate           Authorizer
	Audit          audit.Recorder
	Metrics        Metrics
	Telemetry      Telemetry
	Logger         Logger
	QoS            byte
	PendingTimeout time.Duration
}

// Translator validates, encodes and publishes operator intents.
//
// It only reads registry snapshots, apart from MarkPending after a
// successful schedule submit. Publish runs on the caller's goroutine.
type Translator struct {
	publisher      Publisher
	registry       Registry
	gate           Authorizer
	audit          audit.Recorder
	metrics        Metrics
	telemetry      Telemetry
	logger         Logger
	qos            byte
	pendingTimeout time.Duration
	newID          func() string
}

// New creates a Translator.
func New(cfg Config) *Translator {
	t := &Translator{
		publisher:      cfg.Publisher,
		registry:       cfg.Registry,
		gate:           cfg.Gate,
		audit:          cfg.Audit,
		metrics:        cfg.Metrics,
		telemetry:      cfg.Telemetry,
		logger:         cfg.Logger,
		qos:            cfg.QoS,
		pendingTimeout: cfg.PendingTimeout,
		newID:          newCommandID,
	}
	if t.audit == nil {
		t.audit = audit.Nop{}
	}
	if t.logger == nil {
		t.logger = noopLogger{}
	}
	if t.pendingTimeout <= 0 {
		t.pendingTimeout = DefaultPendingTimeout
	}
	return t
}

func newCommandID() string {
	return "cmd-" + uuid.NewString()[:8]
}

// Issue sends cmd to one device on behalf of p.
func (t *Translator) Issue(ctx context.Context, p auth.Principal, deviceID string, cmd protocol.Command) Result {
	return t.issue(ctx, p, auth.PermCommandIssue, deviceID, cmd)
}

// SubmitScheduleEdit sends a slot change to the central unit. The registry
// schedule is not touched: the slot changes when the change notification
// comes back. Until then the edit is held as pending on the device.
func (t *Translator) SubmitScheduleEdit(ctx context.Context, p auth.Principal, deviceID string, index, hour, minute, grams int) Result {
	cmd := protocol.UpdateSchedule{Index: index, Hour: hour, Minute: minute, PortionGrams: grams}
	res := t.issue(ctx, p, auth.PermScheduleEdit, deviceID, cmd)
	if !res.Sent() {
		return res
	}

	now := t.registry.Now()
	edit := device.PendingEdit{
		Hour:         hour,
		Minute:       minute,
		PortionGrams: grams,
		CommandID:    res.CommandID,
		SubmittedAt:  now,
		Deadline:     now.Add(t.pendingTimeout),
	}
	id, _ := protocol.NormalizeDeviceID(deviceID) //nolint:errcheck // issue already resolved the id
	if err := t.registry.MarkPending(id, index, edit); err != nil {
		t.logger.Warn("pending edit not recorded", "device_id", id, "index", index, "error", err)
	}
	return res
}

// Broadcast sends cmd to every listed device without a role check. It is
// used for system actions such as the status request on reconnect, never
// for operator intents.
func (t *Translator) Broadcast(ctx context.Context, ids []string, cmd protocol.Command) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		results = append(results, t.dispatch(ctx, nil, id, cmd))
	}
	return results
}

// PublishRaw sends an operator-supplied message verbatim. The topic must be
// inside a feeder tree and a body that looks like JSON must parse.
func (t *Translator) PublishRaw(ctx context.Context, p auth.Principal, topic string, payload []byte) Result {
	const name = "raw_publish"
	id := t.newID()
	msg := protocol.Message{Topic: topic, Payload: payload}

	if err := t.gate.Authorize(p, auth.PermRawPublish); err != nil {
		return t.finish(ctx, p, "", name, rejected(id, ReasonNotAuthorized, err))
	}
	if err := validateRaw(topic, payload); err != nil {
		return t.finish(ctx, p, "", name, rejected(id, err.Error(), err))
	}
	return t.finish(ctx, p, "", name, t.publish(ctx, id, msg))
}

func validateRaw(topic string, payload []byte) error {
	if topic == "" || strings.ContainsAny(topic, "+#") || !protocol.IsFeederTopic(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	body := bytes.TrimSpace(payload)
	if len(body) > 0 && (body[0] == '{' || body[0] == '[') && !json.Valid(body) {
		return ErrInvalidPayload
	}
	return nil
}

func (t *Translator) issue(ctx context.Context, p auth.Principal, perm auth.Permission, deviceID string, cmd protocol.Command) Result {
	name := commandName(cmd)
	if err := t.gate.Authorize(p, perm); err != nil {
		return t.finish(ctx, p, deviceID, name, rejected(t.newID(), ReasonNotAuthorized, err))
	}
	return t.dispatch(ctx, p, deviceID, cmd)
}

// dispatch runs the checks after authorization.
func (t *Translator) dispatch(ctx context.Context, p auth.Principal, deviceID string, cmd protocol.Command) Result {
	name := commandName(cmd)
	id := t.newID()

	d, err := t.registry.Snapshot(deviceID)
	if err != nil {
		if !errors.Is(err, device.ErrDeviceNotFound) && !errors.Is(err, protocol.ErrInvalidDeviceID) {
			err = fmt.Errorf("%w: %w", device.ErrDeviceNotFound, err)
		}
		return t.finish(ctx, p, deviceID, name, rejected(id, ReasonUnknownDevice, err))
	}

	msg, err := protocol.Encode(cmd, d.ID, d.Generation)
	if err == nil {
		err = slotInRange(cmd, d)
	}
	if err != nil {
		return t.finish(ctx, p, d.ID, name, rejected(id, err.Error(), err))
	}

	return t.finish(ctx, p, d.ID, name, t.publish(ctx, id, msg))
}

// slotInRange rejects a schedule edit for a slot the device does not have.
// A device whose schedule has not been seen yet accepts any index.
func slotInRange(cmd protocol.Command, d device.Device) error {
	u, ok := cmd.(protocol.UpdateSchedule)
	if !ok || len(d.Schedule) == 0 || u.Index < len(d.Schedule) {
		return nil
	}
	return fmt.Errorf("%w: slot index %d out of range, device has %d slots", protocol.ErrValidation, u.Index, len(d.Schedule))
}

func (t *Translator) publish(ctx context.Context, id string, msg protocol.Message) Result {
	if !t.publisher.IsConnected() {
		return unavailable(id, msg, mqtt.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return unavailable(id, msg, err)
	}
	if err := t.publisher.Publish(msg.Topic, msg.Payload, t.qos, msg.Retained); err != nil {
		return unavailable(id, msg, err)
	}
	return sent(id, msg)
}

// finish records the attempt and returns res unchanged.
func (t *Translator) finish(ctx context.Context, p auth.Principal, deviceID, name string, res Result) Result {
	entry := &audit.Entry{
		CommandID: res.CommandID,
		DeviceID:  deviceID,
		Command:   name,
		Outcome:   res.Outcome.auditOutcome(),
		Reason:    res.Reason,
		Topic:     res.Message.Topic,
		Payload:   string(res.Message.Payload),
	}
	if p != nil {
		entry.Subject = p.Name()
		entry.Role = string(p.CurrentRole())
	} else {
		entry.Subject = "system"
	}

	// The audit write must not be cancelled along with the request.
	if err := t.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		t.logger.Warn("audit write failed", "command_id", res.CommandID, "error", err)
	}
	if t.metrics != nil {
		t.metrics.CommandIssued(name, string(res.Outcome))
	}
	if t.telemetry != nil {
		t.telemetry.WriteCommand(deviceID, name, string(res.Outcome), t.registry.Now())
	}

	if res.Sent() {
		t.logger.Info("command sent",
			"command_id", res.CommandID,
			"command", name,
			"device_id", deviceID,
			"topic", res.Topic,
			"subject", entry.Subject,
		)
	} else {
		t.logger.Warn("command not sent",
			"command_id", res.CommandID,
			"command", name,
			"device_id", deviceID,
			"outcome", res.Outcome,
			"reason", res.Reason,
		)
	}
	return res
}

func commandName(cmd protocol.Command) string {
	if cmd == nil {
		return "unknown"
	}
	return cmd.Name()
}

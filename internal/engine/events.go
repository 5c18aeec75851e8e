package engine

import (
	"time"

	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/protocol"
)

// ChangeKind names a change notification.
type ChangeKind string

const (
	KindDeviceCreated   ChangeKind = "device.created"
	KindDeviceOnline    ChangeKind = "device.online"
	KindDeviceOffline   ChangeKind = "device.offline"
	KindDeviceUpdated   ChangeKind = "device.updated"
	KindScheduleChanged ChangeKind = "schedule.changed"
	KindEditExpired     ChangeKind = "schedule.edit_expired"
	KindFeedCompleted   ChangeKind = "feed.completed"
	KindFoodAlert       ChangeKind = "alert.food"
	KindConnectionState ChangeKind = "connection.state"
)

// Kinds lists every ChangeKind.
func Kinds() []ChangeKind {
	return []ChangeKind{
		KindDeviceCreated,
		KindDeviceOnline,
		KindDeviceOffline,
		KindDeviceUpdated,
		KindScheduleChanged,
		KindEditExpired,
		KindFeedCompleted,
		KindFoodAlert,
		KindConnectionState,
	}
}

// ChangeEvent is delivered to listeners registered with OnChange.
type ChangeEvent struct {
	Kind     ChangeKind `json:"kind"`
	DeviceID string     `json:"device_id,omitempty"`

	// Snapshot is the device after the change. Nil for connection events.
	Snapshot *device.Device `json:"snapshot,omitempty"`

	// Data carries kind-specific details, e.g. the expired slot index.
	Data map[string]any `json:"data,omitempty"`

	At time.Time `json:"at"`
}

// Listener receives change notifications. It must not block.
type Listener func(ChangeEvent)

// kindsFor lists the notifications for one applied event, in order.
func kindsFor(ev protocol.Event, c device.Change) []ChangeKind {
	var kinds []ChangeKind
	if c.Created {
		kinds = append(kinds, KindDeviceCreated)
	}
	if c.CameOnline {
		kinds = append(kinds, KindDeviceOnline)
	}

	specific := len(kinds)
	if c.ScheduleReplaced || c.SlotUpdated || c.EditConfirmed {
		kinds = append(kinds, KindScheduleChanged)
	}
	if c.FeedCompleted {
		kinds = append(kinds, KindFeedCompleted)
	}
	switch ev.(type) {
	case protocol.LowFoodAlert, protocol.LegacyAlert:
		kinds = append(kinds, KindFoodAlert)
	}

	if c.Updated && len(kinds) == specific {
		kinds = append(kinds, KindDeviceUpdated)
	}
	return kinds
}

// eventName is the metrics label for a decoded event.
func eventName(ev protocol.Event) string {
	switch ev.(type) {
	case protocol.FullState:
		return "full_state"
	case protocol.ScheduleChanged:
		return "schedule_changed"
	case protocol.Heartbeat:
		return "heartbeat"
	case protocol.LowFoodAlert:
		return "food_alert"
	case protocol.LegacyAlert:
		return "legacy_alert"
	case protocol.LegacyStatus:
		return "legacy_status"
	case protocol.LegacyFeedResponse:
		return "feed_response"
	default:
		return "unrecognized"
	}
}

// eventData returns the kind-specific details carried from the decoded event.
func eventData(kind ChangeKind, ev protocol.Event) map[string]any {
	if kind != KindFeedCompleted {
		return nil
	}
	resp, ok := ev.(protocol.LegacyFeedResponse)
	if !ok {
		return nil
	}
	data := map[string]any{"duration_s": resp.DurationSeconds}
	if resp.CommandID != "" {
		data["command_id"] = resp.CommandID
	}
	return data
}

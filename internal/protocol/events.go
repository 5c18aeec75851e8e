package protocol

// Generation identifies which wire protocol a message or device uses.
type Generation string

const (
	// GenerationLegacy is the verbose alimentador/remota/* protocol.
	GenerationLegacy Generation = "legacy"

	// GenerationCompact is the numeric-keyed a/* protocol.
	GenerationCompact Generation = "compact"
)

// Origin identifies who made a schedule change.
type Origin string

const (
	// OriginPanel is an edit made on the central unit's front panel.
	OriginPanel Origin = "panel"

	// OriginDashboard is an edit submitted remotely through a config submit.
	OriginDashboard Origin = "dashboard"
)

// Reason explains why a message was not recognised.
type Reason string

const (
	ReasonUnknownTopic Reason = "unknown_topic"
	ReasonMalformed    Reason = "malformed_payload"
)

// NeverExecuted is the sentinel for a meal slot that has not run yet.
const NeverExecuted = "never"

// Event is the canonical form of an inbound bus message.
//
// The set of variants is closed: every Event is one of the types in this
// file. Use a type switch to dispatch.
type Event interface {
	// Device returns the canonical device id, or "" for Unrecognized.
	Device() string
	isEvent()
}

// MealEntry is one decoded slot of a full-state message.
type MealEntry struct {
	Hour         int
	Minute       int
	PortionGrams int
	LastExecuted string
}

// FullState is the retained complete state of one device (a/c/s/<id>).
type FullState struct {
	DeviceID string
	Online   bool
	Active   bool
	Meals    []MealEntry

	// TextOnly marks a state body that was plain text rather than a JSON
	// object. Only the device's presence is known: Online is set and the
	// active flag and schedule must be left as they are.
	TextOnly bool
}

// ScheduleChanged announces that one slot was modified (a/c/cu).
type ScheduleChanged struct {
	DeviceID     string
	Index        int
	Hour         int
	Minute       int
	PortionGrams int
	Origin       Origin
}

// Heartbeat is a periodic proof of life from either generation.
type Heartbeat struct {
	DeviceID   string
	Generation Generation
	// RSSI is nil when the payload did not report signal strength.
	RSSI    *int
	Feeding bool
	Locked  bool
}

// LowFoodAlert reports the food level sensor reading.
type LowFoodAlert struct {
	DeviceID   string
	Generation Generation
	Low        bool
	DistanceCM float64
}

// LegacyStatus is a generic status report. The legacy generation sends
// free text on alimentador/remota/status; compact remotes send an online
// flag on a/r/st.
type LegacyStatus struct {
	DeviceID   string
	Generation Generation
	Status     string

	// Offline is set when the device announced it is going away. Such a
	// report is recorded but is not proof of life.
	Offline bool
}

// LegacyFeedResponse reports the outcome of a feed command from either
// generation.
type LegacyFeedResponse struct {
	DeviceID        string
	Generation      Generation
	Completed       bool
	DurationSeconds int
	CommandID       string
}

// LegacyAlert is a plain-text food alert (RACAO_BAIXA / RACAO_OK).
type LegacyAlert struct {
	DeviceID string
	Low      bool
}

// Unrecognized is any message that could not be decoded. It is logged and
// dropped by the engine.
type Unrecognized struct {
	Topic  string
	Raw    []byte
	Reason Reason
	Detail string
}

func (e FullState) Device() string          { return e.DeviceID }
func (e ScheduleChanged) Device() string    { return e.DeviceID }
func (e Heartbeat) Device() string          { return e.DeviceID }
func (e LowFoodAlert) Device() string       { return e.DeviceID }
func (e LegacyStatus) Device() string       { return e.DeviceID }
func (e LegacyFeedResponse) Device() string { return e.DeviceID }
func (e LegacyAlert) Device() string        { return e.DeviceID }
func (Unrecognized) Device() string         { return "" }

func (FullState) isEvent()          {}
func (ScheduleChanged) isEvent()    {}
func (Heartbeat) isEvent()          {}
func (LowFoodAlert) isEvent()       {}
func (LegacyStatus) isEvent()       {}
func (LegacyFeedResponse) isEvent() {}
func (LegacyAlert) isEvent()        {}
func (Unrecognized) isEvent()       {}

// GenerationOf returns the protocol generation an event was received in.
// Unrecognized events report "".
func GenerationOf(e Event) Generation {
	switch ev := e.(type) {
	case FullState, ScheduleChanged:
		return GenerationCompact
	case Heartbeat:
		return ev.Generation
	case LowFoodAlert:
		return ev.Generation
	case LegacyStatus:
		return orLegacy(ev.Generation)
	case LegacyFeedResponse:
		return orLegacy(ev.Generation)
	case LegacyAlert:
		return GenerationLegacy
	default:
		return ""
	}
}

func orLegacy(g Generation) Generation {
	if g == "" {
		return GenerationLegacy
	}
	return g
}

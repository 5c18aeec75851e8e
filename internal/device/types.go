package device

import (
	"time"

	"github.com/nerrad567/feeder-core/internal/protocol"
)

// Device is the canonical record for one physical feeder.
type Device struct {
	// Identity
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`

	// Protocol generation the device was last heard speaking. Upgraded to
	// compact on the first compact message, never downgraded.
	Generation protocol.Generation `json:"generation"`

	// Liveness
	Online          bool      `json:"online"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`

	// Device-reported flags. Legacy devices report no active flag and
	// default to true.
	Active  bool `json:"active"`
	Feeding bool `json:"feeding"`
	Locked  bool `json:"locked"`
	RSSI    *int `json:"rssi,omitempty"`

	// Legacy status text, e.g. "DISPONIVEL".
	Status string `json:"status,omitempty"`

	// Food level
	FoodLow        bool    `json:"food_low"`
	FoodDistanceCM float64 `json:"food_distance_cm,omitempty"`

	// LastFeedAt is nil until a feed is confirmed.
	LastFeedAt *time.Time `json:"last_feed_at,omitempty"`

	// Schedule indexed 0..N-1.
	Schedule []MealSlot `json:"schedule"`

	// PendingEdits holds dashboard edits awaiting their change notification,
	// keyed by slot index.
	PendingEdits map[int]PendingEdit `json:"pending_edits,omitempty"`

	AutoDiscovered bool      `json:"auto_discovered"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MealSlot is one scheduled feeding.
type MealSlot struct {
	Index        int `json:"index"`
	Hour         int `json:"hour"`
	Minute       int `json:"minute"`
	PortionGrams int `json:"portion_grams"`

	// LastExecuted is the device-reported last run, or "never".
	LastExecuted string `json:"last_executed"`
}

// PendingEdit is a schedule edit submitted to the central unit but not yet
// echoed back. It is dropped when the echo arrives or Deadline passes.
type PendingEdit struct {
	Hour         int       `json:"hour"`
	Minute       int       `json:"minute"`
	PortionGrams int       `json:"portion_grams"`
	CommandID    string    `json:"command_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Deadline     time.Time `json:"deadline"`
}

// matches reports whether the slot carries the edit's values.
func (p PendingEdit) matches(hour, minute, grams int) bool {
	return p.Hour == hour && p.Minute == minute && p.PortionGrams == grams
}

// PendingExpiry describes a pending edit that timed out.
type PendingExpiry struct {
	DeviceID string
	Index    int
	Edit     PendingEdit
}

// DeepCopy creates a complete independent copy of the Device.
// Slices, maps and pointers are cloned so the registry's record cannot be
// changed through a snapshot.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Schedule != nil {
		cpy.Schedule = make([]MealSlot, len(d.Schedule))
		copy(cpy.Schedule, d.Schedule)
	}

	if d.PendingEdits != nil {
		cpy.PendingEdits = make(map[int]PendingEdit, len(d.PendingEdits))
		for k, v := range d.PendingEdits {
			cpy.PendingEdits[k] = v
		}
	}

	if d.RSSI != nil {
		rssi := *d.RSSI
		cpy.RSSI = &rssi
	}

	if d.LastFeedAt != nil {
		t := *d.LastFeedAt
		cpy.LastFeedAt = &t
	}

	return &cpy
}

// displayNameFor derives the human label from a canonical id.
func displayNameFor(id string) string {
	return "Feeder " + id
}

func slotsFromMeals(meals []protocol.MealEntry) []MealSlot {
	slots := make([]MealSlot, len(meals))
	for i, m := range meals {
		slots[i] = MealSlot{
			Index:        i,
			Hour:         m.Hour,
			Minute:       m.Minute,
			PortionGrams: m.PortionGrams,
			LastExecuted: m.LastExecuted,
		}
	}
	return slots
}

func sameSchedule(a, b []MealSlot) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

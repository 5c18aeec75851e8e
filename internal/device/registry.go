package device

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/feeder-core/internal/protocol"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Registry. Zero values select SystemClock and a
// silent logger.
type Options struct {
	Clock  Clock
	Logger Logger
}

// Change describes the effect of one mutator call.
type Change struct {
	DeviceID string

	// Created is set on the first sighting of a device.
	Created bool

	// CameOnline is set when an offline (or new) device was promoted.
	CameOnline bool

	// Updated is set when any reported flag, status or reading changed.
	Updated bool

	// ScheduleReplaced is set when a full state replaced a different schedule.
	ScheduleReplaced bool

	// SlotUpdated is set when a change notification modified one slot.
	SlotUpdated bool

	// EditConfirmed is set when a pending dashboard edit was echoed back.
	EditConfirmed bool

	// FeedCompleted is set when a device confirmed a feed.
	FeedCompleted bool

	// Ignored is set when the message referenced an unknown device or slot.
	Ignored bool
}

// Modified reports whether the device record changed in a way listeners
// should see.
func (c Change) Modified() bool {
	return c.Created || c.CameOnline || c.Updated || c.ScheduleReplaced ||
		c.SlotUpdated || c.EditConfirmed || c.FeedCompleted
}

// Stats summarises the registry for health and metrics.
type Stats struct {
	TotalDevices int                         `json:"total_devices"`
	Online       int                         `json:"online"`
	ByGeneration map[protocol.Generation]int `json:"by_generation"`
	PendingEdits int                         `json:"pending_edits"`
}

// Registry owns every Device record.
//
// One mutex serialises mutators, the liveness sweep and pending-edit
// expiry. Readers receive deep copies.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	clock   Clock
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		devices: make(map[string]*Device),
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
	if r.clock == nil {
		r.clock = SystemClock{}
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// =============================================================================
// Mutators
// =============================================================================

// UpsertFromFullState applies a retained full-state message.
//
// The schedule is replaced wholesale. An online flag counts as proof of
// life; an offline flag neither promotes nor demotes, since only the
// liveness sweep may demote. A text-only state carries presence and
// nothing else.
func (r *Registry) UpsertFromFullState(s protocol.FullState) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	d, c := r.getOrCreate(s.DeviceID, protocol.GenerationCompact, now)
	upgrade(d, protocol.GenerationCompact)

	if s.Online {
		touch(d, now, &c)
	}
	if s.TextOnly {
		r.finish(d, c, now)
		return c
	}
	if d.Active != s.Active {
		d.Active = s.Active
		c.Updated = true
	}

	schedule := slotsFromMeals(s.Meals)
	if !sameSchedule(d.Schedule, schedule) {
		d.Schedule = schedule
		c.ScheduleReplaced = true
	}

	for idx, p := range d.PendingEdits {
		if idx < len(schedule) && p.matches(schedule[idx].Hour, schedule[idx].Minute, schedule[idx].PortionGrams) {
			delete(d.PendingEdits, idx)
			c.EditConfirmed = true
		}
	}

	r.finish(d, c, now)
	return c
}

// UpsertFromHeartbeat applies a heartbeat from either generation.
func (r *Registry) UpsertFromHeartbeat(hb protocol.Heartbeat) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	d, c := r.getOrCreate(hb.DeviceID, hb.Generation, now)
	upgrade(d, hb.Generation)
	touch(d, now, &c)

	if hb.Generation == protocol.GenerationCompact {
		if d.Feeding != hb.Feeding || d.Locked != hb.Locked {
			d.Feeding = hb.Feeding
			d.Locked = hb.Locked
			c.Updated = true
		}
	}
	if hb.RSSI != nil && (d.RSSI == nil || *d.RSSI != *hb.RSSI) {
		rssi := *hb.RSSI
		d.RSSI = &rssi
		c.Updated = true
	}

	r.finish(d, c, now)
	return c
}

// ApplyScheduleChange patches one slot from a change notification.
//
// A notification for an unknown device or slot is absorbed and reported as
// Ignored; a later full state fills the gap. The slot's LastExecuted is
// preserved. Any pending edit on the slot is resolved.
func (r *Registry) ApplyScheduleChange(sc protocol.ScheduleChanged) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Change{DeviceID: sc.DeviceID}
	d, ok := r.devices[sc.DeviceID]
	if !ok || sc.Index < 0 || sc.Index >= len(d.Schedule) {
		c.Ignored = true
		r.logger.Debug("schedule change for unknown slot ignored",
			"device_id", sc.DeviceID, "index", sc.Index)
		return c
	}

	now := r.clock.Now()
	upgrade(d, protocol.GenerationCompact)

	slot := &d.Schedule[sc.Index]
	if slot.Hour != sc.Hour || slot.Minute != sc.Minute || slot.PortionGrams != sc.PortionGrams {
		slot.Hour = sc.Hour
		slot.Minute = sc.Minute
		slot.PortionGrams = sc.PortionGrams
		c.SlotUpdated = true
	}

	if p, ok := d.PendingEdits[sc.Index]; ok {
		delete(d.PendingEdits, sc.Index)
		c.EditConfirmed = p.matches(sc.Hour, sc.Minute, sc.PortionGrams)
		if !c.EditConfirmed {
			r.logger.Info("pending edit superseded",
				"device_id", sc.DeviceID, "index", sc.Index, "origin", sc.Origin)
		}
		// A superseded edit still changes what listeners see.
		c.Updated = true
	}

	r.finish(d, c, now)
	return c
}

// ApplyAlert records a food level reading. It is proof of life.
func (r *Registry) ApplyAlert(a protocol.LowFoodAlert) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	d, c := r.getOrCreate(a.DeviceID, a.Generation, now)
	upgrade(d, a.Generation)
	touch(d, now, &c)

	if d.FoodLow != a.Low {
		d.FoodLow = a.Low
		c.Updated = true
	}
	if a.DistanceCM > 0 && d.FoodDistanceCM != a.DistanceCM {
		d.FoodDistanceCM = a.DistanceCM
		c.Updated = true
	}

	r.finish(d, c, now)
	return c
}

// ApplyLegacyStatus records a status report from either generation. It is
// proof of life unless the device announced it is going offline; that
// report neither promotes nor demotes.
func (r *Registry) ApplyLegacyStatus(s protocol.LegacyStatus) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	gen := protocol.GenerationOf(s)
	d, c := r.getOrCreate(s.DeviceID, gen, now)
	upgrade(d, gen)
	if !s.Offline {
		touch(d, now, &c)
	}

	if s.Status != "" && d.Status != s.Status {
		d.Status = s.Status
		c.Updated = true
	}

	r.finish(d, c, now)
	return c
}

// ApplyFeedResponse records a feed command outcome. It is proof of life;
// a completed feed also stamps LastFeedAt.
func (r *Registry) ApplyFeedResponse(resp protocol.LegacyFeedResponse) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	gen := protocol.GenerationOf(resp)
	d, c := r.getOrCreate(resp.DeviceID, gen, now)
	upgrade(d, gen)
	touch(d, now, &c)

	if resp.Completed {
		fedAt := now
		d.LastFeedAt = &fedAt
		d.Feeding = false
		c.FeedCompleted = true
	}

	r.finish(d, c, now)
	return c
}

// MarkPending records a submitted schedule edit awaiting its echo.
// A newer edit for the same slot replaces the older one.
func (r *Registry) MarkPending(id string, index int, edit PendingEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	if d.PendingEdits == nil {
		d.PendingEdits = make(map[int]PendingEdit)
	}
	d.PendingEdits[index] = edit
	d.UpdatedAt = r.clock.Now()
	return nil
}

// ExpirePendingEdits removes every pending edit whose deadline is at or
// before now and returns them ordered by device and slot.
func (r *Registry) ExpirePendingEdits(now time.Time) []PendingExpiry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []PendingExpiry
	for id, d := range r.devices {
		for idx, p := range d.PendingEdits {
			if now.Before(p.Deadline) {
				continue
			}
			delete(d.PendingEdits, idx)
			d.UpdatedAt = now
			expired = append(expired, PendingExpiry{DeviceID: id, Index: idx, Edit: p})
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].DeviceID != expired[j].DeviceID {
			return expired[i].DeviceID < expired[j].DeviceID
		}
		return expired[i].Index < expired[j].Index
	})
	return expired
}

// SweepOffline demotes every online device silent for longer than
// threshold and returns their ids in order. A device already offline is
// not reported again.
func (r *Registry) SweepOffline(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var demoted []string
	for id, d := range r.devices {
		if !d.Online || now.Sub(d.LastHeartbeatAt) <= threshold {
			continue
		}
		d.Online = false
		d.UpdatedAt = now
		demoted = append(demoted, id)
	}
	sort.Strings(demoted)

	for _, id := range demoted {
		r.logger.Info("device offline", "device_id", id, "threshold", threshold)
	}
	return demoted
}

// =============================================================================
// Readers
// =============================================================================

// Snapshot returns a copy of one device. The id may be in any accepted
// spelling ("7" or "007").
func (r *Registry) Snapshot(id string) (Device, error) {
	canonical, err := protocol.NormalizeDeviceID(id)
	if err != nil {
		return Device{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[canonical]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return *d.DeepCopy(), nil
}

// AllSnapshots returns copies of every device sorted by id.
func (r *Registry) AllSnapshots() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// IDs returns every known device id sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByGeneration: make(map[protocol.Generation]int),
	}
	for _, d := range r.devices {
		if d.Online {
			stats.Online++
		}
		stats.ByGeneration[d.Generation]++
		stats.PendingEdits += len(d.PendingEdits)
	}
	return stats
}

// =============================================================================
// Internals (caller holds r.mu)
// =============================================================================

func (r *Registry) getOrCreate(id string, gen protocol.Generation, now time.Time) (*Device, Change) {
	c := Change{DeviceID: id}
	if d, ok := r.devices[id]; ok {
		return d, c
	}

	d := &Device{
		ID:             id,
		DisplayName:    displayNameFor(id),
		Generation:     gen,
		Active:         true,
		Schedule:       []MealSlot{},
		AutoDiscovered: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.devices[id] = d
	c.Created = true

	r.logger.Info("device discovered", "device_id", id, "generation", gen)
	return d, c
}

// finish stamps UpdatedAt when the record changed.
func (r *Registry) finish(d *Device, c Change, now time.Time) {
	if c.Modified() {
		d.UpdatedAt = now
	}
	if c.CameOnline && !c.Created {
		r.logger.Info("device online", "device_id", d.ID)
	}
}

// touch records proof of life.
func touch(d *Device, now time.Time, c *Change) {
	d.LastHeartbeatAt = now
	if !d.Online {
		d.Online = true
		c.CameOnline = true
	}
}

// upgrade moves a device to the compact generation. It never downgrades.
func upgrade(d *Device, gen protocol.Generation) {
	if gen == protocol.GenerationCompact {
		d.Generation = protocol.GenerationCompact
	}
}

package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/protocol"
)

type mockTelemetry struct {
	mu     sync.Mutex
	writes []string
}

func (m *mockTelemetry) add(format string, args ...any) {
	m.mu.Lock()
	m.writes = append(m.writes, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

func (m *mockTelemetry) WriteLiveness(id string, online bool, _ time.Time) {
	m.add("liveness %s %v", id, online)
}

func (m *mockTelemetry) WriteFoodLevel(id string, low bool, distance float64, _ time.Time) {
	m.add("food %s %v %.1f", id, low, distance)
}

func (m *mockTelemetry) WriteFeed(id string, seconds int, _ time.Time) {
	m.add("feed %s %d", id, seconds)
}

func (m *mockTelemetry) WriteHeartbeat(id string, rssi int, _ time.Time) {
	m.add("heartbeat %s %d", id, rssi)
}

func TestTelemetryListener(t *testing.T) {
	rssi := -45
	withRSSI := &device.Device{ID: "007", RSSI: &rssi}
	lowFood := &device.Device{ID: "007", FoodLow: true, FoodDistanceCM: 12.5}

	tests := []struct {
		name string
		evt  ChangeEvent
		want []string
	}{
		{"online with rssi", ChangeEvent{Kind: KindDeviceOnline, DeviceID: "007", Snapshot: withRSSI}, []string{"liveness 007 true", "heartbeat 007 -45"}},
		{"online without snapshot", ChangeEvent{Kind: KindDeviceOnline, DeviceID: "007"}, []string{"liveness 007 true"}},
		{"offline", ChangeEvent{Kind: KindDeviceOffline, DeviceID: "003"}, []string{"liveness 003 false"}},
		{"updated rssi", ChangeEvent{Kind: KindDeviceUpdated, DeviceID: "007", Snapshot: withRSSI}, []string{"heartbeat 007 -45"}},
		{"food alert", ChangeEvent{Kind: KindFoodAlert, DeviceID: "007", Snapshot: lowFood}, []string{"food 007 true 12.5"}},
		{"feed", ChangeEvent{Kind: KindFeedCompleted, DeviceID: "003", Data: map[string]any{"duration_s": 5}}, []string{"feed 003 5"}},
		{"schedule ignored", ChangeEvent{Kind: KindScheduleChanged, DeviceID: "007", Snapshot: withRSSI}, nil},
		{"connection ignored", ChangeEvent{Kind: KindConnectionState}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &mockTelemetry{}
			TelemetryListener(sink)(tt.evt)
			if fmt.Sprint(sink.writes) != fmt.Sprint(tt.want) {
				t.Errorf("writes = %v, want %v", sink.writes, tt.want)
			}
		})
	}
}

func TestEventData_FeedDuration(t *testing.T) {
	data := eventData(KindFeedCompleted, protocol.LegacyFeedResponse{DeviceID: "003", Completed: true, DurationSeconds: 5, CommandID: "cmd-1"})
	if data["duration_s"] != 5 || data["command_id"] != "cmd-1" {
		t.Errorf("data = %v", data)
	}
	if eventData(KindDeviceUpdated, protocol.LegacyFeedResponse{}) != nil {
		t.Error("non-feed kind carried data")
	}
}

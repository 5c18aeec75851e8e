package liveness

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/protocol"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type offlineRecorder struct {
	mu    sync.Mutex
	calls []string
	last  map[string]time.Time
}

func (r *offlineRecorder) record(id string, last time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = make(map[string]time.Time)
	}
	r.calls = append(r.calls, id)
	r.last[id] = last
}

func (r *offlineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func setup() (*device.Registry, *device.FakeClock, *Monitor, *offlineRecorder) {
	clk := device.NewFakeClock(epoch)
	reg := device.NewRegistry(device.Options{Clock: clk})
	rec := &offlineRecorder{}
	mon := New(reg, Config{Clock: clk, OnOffline: rec.record})
	return reg, clk, mon, rec
}

func heartbeat(reg *device.Registry, id string) {
	reg.UpsertFromHeartbeat(protocol.Heartbeat{DeviceID: id, Generation: protocol.GenerationCompact})
}

func TestNew_Defaults(t *testing.T) {
	m := New(device.NewRegistry(device.Options{}), Config{})
	if m.interval != DefaultInterval || m.threshold != DefaultThreshold {
		t.Errorf("interval/threshold = %v/%v, want defaults", m.interval, m.threshold)
	}
}

func TestSweepNow_OneTransitionPerSilence(t *testing.T) {
	reg, clk, mon, rec := setup()
	heartbeat(reg, "007")

	for i := 0; i < 6; i++ {
		clk.Advance(5 * time.Second)
		mon.SweepNow()
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("demoted at 30s: %v", got)
	}

	// Keep sweeping well past the threshold.
	for i := 0; i < 10; i++ {
		clk.Advance(5 * time.Second)
		mon.SweepNow()
	}

	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"007"}) {
		t.Fatalf("offline calls = %v, want exactly [007]", got)
	}
	if !rec.last["007"].Equal(epoch) {
		t.Errorf("lastHeartbeat = %v, want %v", rec.last["007"], epoch)
	}
}

func TestSweepNow_HeartbeatBeforeThresholdSuppresses(t *testing.T) {
	reg, clk, mon, rec := setup()
	heartbeat(reg, "007")

	clk.Advance(29900 * time.Millisecond)
	heartbeat(reg, "007")
	clk.Advance(5 * time.Second)
	mon.SweepNow()

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("offline calls = %v, want none", got)
	}
	d, _ := reg.Snapshot("007")
	if !d.Online {
		t.Error("device demoted despite fresh heartbeat")
	}
}

func TestSweepNow_NewEpisodeAfterRecovery(t *testing.T) {
	reg, clk, mon, rec := setup()
	heartbeat(reg, "003")

	clk.Advance(31 * time.Second)
	mon.SweepNow()
	heartbeat(reg, "003")
	clk.Advance(31 * time.Second)
	mon.SweepNow()

	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"003", "003"}) {
		t.Errorf("offline calls = %v, want two episodes", got)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	clk := device.NewFakeClock(epoch)
	reg := device.NewRegistry(device.Options{Clock: clk})
	heartbeat(reg, "001")
	clk.Advance(time.Minute)

	demoted := make(chan string, 1)
	mon := New(reg, Config{
		Interval: 10 * time.Millisecond,
		Clock:    clk,
		OnOffline: func(id string, _ time.Time) {
			select {
			case demoted <- id:
			default:
			}
		},
	})

	mon.Start(context.Background())
	defer mon.Stop()

	select {
	case id := <-demoted:
		if id != "001" {
			t.Errorf("demoted %q, want 001", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never swept")
	}

	mon.Stop()
	mon.Stop() // idempotent
}

func TestMonitor_StopsOnContextCancel(t *testing.T) {
	mon := New(device.NewRegistry(device.Options{}), Config{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	mon.Start(ctx)
	cancel()

	finished := make(chan struct{})
	go func() {
		mon.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not exit on cancel")
	}
}

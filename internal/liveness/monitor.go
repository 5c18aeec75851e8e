package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/feeder-core/internal/device"
)

// Defaults for Config.
const (
	DefaultInterval  = 5 * time.Second
	DefaultThreshold = 30 * time.Second
)

// Registry is the subset of the device registry the monitor needs.
type Registry interface {
	SweepOffline(now time.Time, threshold time.Duration) []string
	Snapshot(id string) (device.Device, error)
}

// Logger defines the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// OfflineFunc is called once per online-to-offline transition.
type OfflineFunc func(deviceID string, lastHeartbeat time.Time)

// Config holds configuration for the monitor.
type Config struct {
	// Interval is how often to sweep.
	// Default: 5 seconds.
	Interval time.Duration

	// Threshold is the longest silence before a device is demoted.
	// Default: 30 seconds.
	Threshold time.Duration

	// Clock supplies the sweep time. Default: device.SystemClock.
	Clock device.Clock

	// OnOffline is notified of each demotion. Optional.
	OnOffline OfflineFunc

	Logger Logger
}

// Monitor periodically demotes silent devices to offline.
// It is the only component that demotes.
type Monitor struct {
	registry  Registry
	interval  time.Duration
	threshold time.Duration
	clock     device.Clock
	onOffline OfflineFunc
	logger    Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a monitor for registry. Call Start to begin sweeping.
func New(registry Registry, cfg Config) *Monitor {
	m := &Monitor{
		registry:  registry,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		clock:     cfg.Clock,
		onOffline: cfg.OnOffline,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.threshold <= 0 {
		m.threshold = DefaultThreshold
	}
	if m.clock == nil {
		m.clock = device.SystemClock{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Start begins periodic sweeping until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Stop halts sweeping and waits for the loop to exit.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

// Threshold returns the configured silence threshold.
func (m *Monitor) Threshold() time.Duration {
	return m.threshold
}

// SweepNow runs one sweep at the clock's current time and returns the
// demoted ids.
func (m *Monitor) SweepNow() []string {
	demoted := m.registry.SweepOffline(m.clock.Now(), m.threshold)
	for _, id := range demoted {
		if m.onOffline == nil {
			continue
		}
		var last time.Time
		if d, err := m.registry.Snapshot(id); err == nil {
			last = d.LastHeartbeatAt
		}
		m.onOffline(id, last)
	}
	if len(demoted) > 0 {
		m.logger.Debug("liveness sweep", "demoted", len(demoted))
	}
	return demoted
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", "interval", m.interval, "threshold", m.threshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.SweepNow()
		}
	}
}

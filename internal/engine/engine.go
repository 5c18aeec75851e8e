package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/feeder-core/internal/auth"
	"github.com/nerrad567/feeder-core/internal/command"
	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/feeder-core/internal/liveness"
	"github.com/nerrad567/feeder-core/internal/metrics"
	"github.com/nerrad567/feeder-core/internal/protocol"
)

// Engine defaults.
const (
	DefaultIntakeBuffer   = 256
	DefaultExpiryInterval = time.Second
)

// Transport is the bus client the engine drives. *mqtt.Client satisfies it.
type Transport interface {
	SubscribeAll(topics []string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger is the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the engine's collaborators and tuning.
type Config struct {
	// Transport, Registry and Translator are required.
	Transport  Transport
	Registry   *device.Registry
	Translator *command.Translator

	QoS          byte
	IntakeBuffer int

	LivenessInterval  time.Duration
	LivenessThreshold time.Duration
	ExpiryInterval    time.Duration

	// AutoReconnect selects Reconnecting rather than Disconnected after a
	// connection loss.
	AutoReconnect bool

	// Clock defaults to the registry's clock source, device.SystemClock.
	Clock   device.Clock
	Metrics *metrics.Metrics
	Logger  Logger
}

// inbound is one queued bus message.
type inbound struct {
	topic   string
	payload []byte
}

// Engine reconciles bus traffic into the device registry.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	transport  Transport
	registry   *device.Registry
	translator *command.Translator
	monitor    *liveness.Monitor
	clock      device.Clock
	metrics    *metrics.Metrics
	logger     Logger

	qos            byte
	autoReconnect  bool
	expiryInterval time.Duration

	intake  chan inbound
	dropped atomic.Uint64

	state   ConnState
	stateMu sync.Mutex

	listeners   []Listener
	listenersMu sync.RWMutex
	notifyMu    sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context    // engine-level context, cancelled on Stop
	ctxCancel context.CancelFunc // cancel function for ctx
}

// New creates an engine. Call Start to begin processing.
func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Translator == nil {
		return nil, fmt.Errorf("translator is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		transport:      cfg.Transport,
		registry:       cfg.Registry,
		translator:     cfg.Translator,
		clock:          cfg.Clock,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		qos:            cfg.QoS,
		autoReconnect:  cfg.AutoReconnect,
		expiryInterval: cfg.ExpiryInterval,
		state:          StateDisconnected,
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      cancel,
	}
	if e.clock == nil {
		e.clock = device.SystemClock{}
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.expiryInterval <= 0 {
		e.expiryInterval = DefaultExpiryInterval
	}
	size := cfg.IntakeBuffer
	if size <= 0 {
		size = DefaultIntakeBuffer
	}
	e.intake = make(chan inbound, size)

	e.monitor = liveness.New(cfg.Registry, liveness.Config{
		Interval:  cfg.LivenessInterval,
		Threshold: cfg.LivenessThreshold,
		Clock:     e.clock,
		OnOffline: e.deviceOffline,
		Logger:    e.logger,
	})

	return e, nil
}

// Start launches the intake worker and the timers. If the transport is
// already connected the connected-entry actions run immediately.
func (e *Engine) Start(ctx context.Context) error {
	started := false
	e.startOnce.Do(func() {
		started = true
		e.wg.Add(1)
		go e.worker(ctx)

		e.monitor.Start(ctx)

		e.wg.Add(1)
		go e.expiryLoop(ctx)
	})
	if !started {
		return fmt.Errorf("engine already started")
	}

	if e.transport.IsConnected() {
		e.HandleConnect()
	} else {
		e.setState(StateConnecting)
	}

	e.logger.Info("engine started",
		"intake_buffer", cap(e.intake),
		"liveness_threshold", e.monitor.Threshold(),
	)
	return nil
}

// Stop halts the worker and timers and waits for them to exit.
// Messages still queued are discarded. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.ctxCancel()
		e.monitor.Stop()
		e.wg.Wait()
		e.logger.Info("engine stopped", "dropped", e.Dropped())
	})
}

// =============================================================================
// Connection state
// =============================================================================

// HandleConnect is the transport's on-connect callback. On every entry to
// Connected it subscribes to all inbound topics and asks every known device
// for its status.
func (e *Engine) HandleConnect() {
	if !e.setState(StateConnected) {
		return
	}

	if err := e.transport.SubscribeAll(protocol.Subscriptions(), e.qos, e.HandleMessage); err != nil {
		e.logger.Error("subscribing to feeder topics", "error", err)
	}

	// The status request is a system action; it is not role-gated.
	ids := e.registry.IDs()
	if len(ids) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		results := e.translator.Broadcast(e.ctx, ids, protocol.RequestStatus{})
		sent := 0
		for _, r := range results {
			if r.Sent() {
				sent++
			}
		}
		e.logger.Info("status requested after connect", "devices", len(ids), "sent", sent)
	}()
}

// HandleConnectionLost is the transport's connection-lost callback.
func (e *Engine) HandleConnectionLost(err error) {
	next := StateDisconnected
	if e.autoReconnect {
		next = StateReconnecting
	}
	if e.setState(next) {
		e.logger.Warn("bus connection lost", "error", err, "state", next)
	}
}

// HandleReconnecting is the transport's reconnect-attempt callback.
func (e *Engine) HandleReconnecting() {
	e.setState(StateReconnecting)
}

// State returns the current connection state.
func (e *Engine) State() ConnState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// setState records a transition and reports whether the state changed.
func (e *Engine) setState(next ConnState) bool {
	e.stateMu.Lock()
	prev := e.state
	e.state = next
	e.stateMu.Unlock()

	if prev == next {
		return false
	}
	e.logger.Info("connection state changed", "from", prev, "to", next)
	e.notify(ChangeEvent{
		Kind: KindConnectionState,
		Data: map[string]any{"from": prev.String(), "state": next.String()},
		At:   e.clock.Now(),
	})
	return true
}

// =============================================================================
// Intake
// =============================================================================

// HandleMessage is the transport's message callback. It never blocks: if
// the intake is full the message is dropped and counted.
func (e *Engine) HandleMessage(topic string, payload []byte) error {
	msg := inbound{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case e.intake <- msg:
	default:
		n := e.dropped.Add(1)
		e.metrics.MessageDropped()
		e.logger.Warn("intake full, message dropped", "topic", topic, "dropped_total", n)
	}
	return nil
}

// Dropped returns how many messages were lost to intake overflow.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case msg := <-e.intake:
			e.processSafe(msg)
		}
	}
}

// processSafe isolates a panic to the one message that caused it.
func (e *Engine) processSafe(msg inbound) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic processing message", "topic", msg.topic, "panic", r)
		}
	}()
	e.process(msg.topic, msg.payload)
}

// process decodes one message, applies it and notifies listeners.
func (e *Engine) process(topic string, payload []byte) {
	ev := protocol.Decode(topic, payload)
	e.metrics.MessageReceived(eventName(ev))

	var c device.Change
	switch v := ev.(type) {
	case protocol.Unrecognized:
		if v.Reason == protocol.ReasonMalformed {
			e.logger.Warn("malformed message dropped", "topic", v.Topic, "detail", v.Detail)
		} else {
			e.logger.Debug("message on unknown topic dropped", "topic", v.Topic)
		}
		return
	case protocol.FullState:
		c = e.registry.UpsertFromFullState(v)
	case protocol.Heartbeat:
		c = e.registry.UpsertFromHeartbeat(v)
	case protocol.ScheduleChanged:
		c = e.registry.ApplyScheduleChange(v)
	case protocol.LowFoodAlert:
		c = e.registry.ApplyAlert(v)
	case protocol.LegacyAlert:
		c = e.registry.ApplyAlert(protocol.LowFoodAlert{
			DeviceID:   v.DeviceID,
			Generation: protocol.GenerationLegacy,
			Low:        v.Low,
		})
	case protocol.LegacyStatus:
		c = e.registry.ApplyLegacyStatus(v)
	case protocol.LegacyFeedResponse:
		c = e.registry.ApplyFeedResponse(v)
	default:
		e.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
		return
	}

	if c.Ignored {
		return
	}

	kinds := kindsFor(ev, c)
	if len(kinds) == 0 {
		return
	}
	snap, err := e.registry.Snapshot(c.DeviceID)
	if err != nil {
		e.logger.Warn("snapshot after apply failed", "device_id", c.DeviceID, "error", err)
		return
	}

	now := e.clock.Now()
	for _, kind := range kinds {
		cpy := snap
		e.notify(ChangeEvent{Kind: kind, DeviceID: c.DeviceID, Snapshot: &cpy, Data: eventData(kind, ev), At: now})
	}
	if c.Created || c.CameOnline {
		e.updateGauges()
	}
}

// =============================================================================
// Timers
// =============================================================================

func (e *Engine) deviceOffline(id string, lastHeartbeat time.Time) {
	e.metrics.DeviceWentOffline()
	evt := ChangeEvent{
		Kind:     KindDeviceOffline,
		DeviceID: id,
		Data:     map[string]any{"last_heartbeat_at": lastHeartbeat},
		At:       e.clock.Now(),
	}
	if snap, err := e.registry.Snapshot(id); err == nil {
		evt.Snapshot = &snap
	}
	e.notify(evt)
	e.updateGauges()
}

// SweepNow runs one liveness sweep immediately and returns demoted ids.
func (e *Engine) SweepNow() []string {
	return e.monitor.SweepNow()
}

// ExpireNow drops pending schedule edits past their deadline and notifies
// listeners. It returns the expired edits.
func (e *Engine) ExpireNow() []device.PendingExpiry {
	expired := e.registry.ExpirePendingEdits(e.clock.Now())
	for _, x := range expired {
		e.metrics.EditExpired()
		e.logger.Warn("schedule edit not confirmed",
			"device_id", x.DeviceID,
			"index", x.Index,
			"command_id", x.Edit.CommandID,
		)
		evt := ChangeEvent{
			Kind:     KindEditExpired,
			DeviceID: x.DeviceID,
			Data: map[string]any{
				"index":      x.Index,
				"command_id": x.Edit.CommandID,
			},
			At: e.clock.Now(),
		}
		if snap, err := e.registry.Snapshot(x.DeviceID); err == nil {
			evt.Snapshot = &snap
		}
		e.notify(evt)
	}
	return expired
}

func (e *Engine) expiryLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.ExpireNow()
		}
	}
}

func (e *Engine) updateGauges() {
	stats := e.registry.GetStats()
	e.metrics.SetDevices(stats.TotalDevices, stats.Online)
}

// =============================================================================
// Listeners
// =============================================================================

// OnChange registers a listener for every change notification.
func (e *Engine) OnChange(l Listener) {
	if l == nil {
		return
	}
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenersMu.Unlock()
}

// notify delivers evt to every listener in registration order. A panicking
// listener is logged and skipped.
func (e *Engine) notify(evt ChangeEvent) {
	e.listenersMu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenersMu.RUnlock()

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	for _, l := range listeners {
		e.callListener(l, evt)
	}
}

func (e *Engine) callListener(l Listener, evt ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("listener panic recovered", "kind", evt.Kind, "panic", r)
		}
	}()
	l(evt)
}

// =============================================================================
// UI facade
// =============================================================================

// Snapshot returns a copy of one device.
func (e *Engine) Snapshot(id string) (device.Device, error) {
	return e.registry.Snapshot(id)
}

// AllSnapshots returns copies of every device sorted by id.
func (e *Engine) AllSnapshots() []device.Device {
	return e.registry.AllSnapshots()
}

// Stats returns registry counters.
func (e *Engine) Stats() device.Stats {
	return e.registry.GetStats()
}

// IssueCommand sends an operator command to one device.
func (e *Engine) IssueCommand(ctx context.Context, p auth.Principal, id string, cmd protocol.Command) command.Result {
	return e.translator.Issue(ctx, p, id, cmd)
}

// SubmitScheduleEdit sends a slot change and holds it as pending until the
// device echoes it.
func (e *Engine) SubmitScheduleEdit(ctx context.Context, p auth.Principal, id string, index, hour, minute, grams int) command.Result {
	res := e.translator.SubmitScheduleEdit(ctx, p, id, index, hour, minute, grams)
	if res.Sent() {
		if snap, err := e.registry.Snapshot(id); err == nil {
			e.notify(ChangeEvent{
				Kind:     KindDeviceUpdated,
				DeviceID: snap.ID,
				Snapshot: &snap,
				Data:     map[string]any{"pending_index": index, "command_id": res.CommandID},
				At:       e.clock.Now(),
			})
		}
	}
	return res
}

// PublishRaw sends a developer-supplied message verbatim.
func (e *Engine) PublishRaw(ctx context.Context, p auth.Principal, topic string, payload []byte) command.Result {
	return e.translator.PublishRaw(ctx, p, topic, payload)
}

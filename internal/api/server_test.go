package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/feeder-core/internal/audit"
	"github.com/nerrad567/feeder-core/internal/auth"
	"github.com/nerrad567/feeder-core/internal/command"
	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/engine"
	"github.com/nerrad567/feeder-core/internal/infrastructure/config"
	"github.com/nerrad567/feeder-core/internal/infrastructure/database"
	"github.com/nerrad567/feeder-core/internal/infrastructure/logging"
	"github.com/nerrad567/feeder-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/feeder-core/internal/metrics"
	"github.com/nerrad567/feeder-core/internal/protocol"
	"github.com/nerrad567/feeder-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// mockTransport records publishes and can be switched offline.
type mockTransport struct {
	mu        sync.Mutex
	connected bool
	published []protocol.Message
}

func (m *mockTransport) SubscribeAll([]string, byte, mqtt.MessageHandler) error { return nil }

func (m *mockTransport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.published = append(m.published, protocol.Message{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// fakeCheck is a HealthChecker with a fixed answer.
type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

type fixture struct {
	srv       *Server
	router    http.Handler
	transport *mockTransport
	registry  *device.Registry
}

// testServer builds a server over a real engine and registry, seeded with
// one compact device (007, two meals) and one legacy device (003).
func testServer(t *testing.T, checks map[string]HealthChecker) *fixture {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)

	reg := device.NewRegistry(device.Options{})
	reg.UpsertFromFullState(protocol.FullState{
		DeviceID: "007",
		Online:   true,
		Meals: []protocol.MealEntry{
			{Hour: 8, Minute: 0, PortionGrams: 250, LastExecuted: protocol.NeverExecuted},
			{Hour: 18, Minute: 30, PortionGrams: 200, LastExecuted: protocol.NeverExecuted},
		},
	})
	reg.UpsertFromHeartbeat(protocol.Heartbeat{DeviceID: "003", Generation: protocol.GenerationLegacy})

	tr := &mockTransport{connected: true}
	translator := command.New(command.Config{
		Publisher: tr,
		Registry:  reg,
		Gate:      auth.NewGate(nil),
		Audit:     repo,
		QoS:       1,
	})
	eng, err := engine.New(engine.Config{Transport: tr, Registry: reg, Translator: translator})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}

	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:   log,
		Engine:   eng,
		Audit:    repo,
		Metrics:  m.Handler(),
		Checks:   checks,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &fixture{srv: srv, router: srv.Handler(), transport: tr, registry: reg}
}

func token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken(subject, role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

// do sends a request with an optional bearer token and JSON body.
func (f *fixture) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Server Construction ───────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")
	f := testServer(t, nil)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Engine: f.srv.engine, Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}}},
		{"no engine", Deps{Logger: log, Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}}},
		{"no secret", Deps{Logger: log, Engine: f.srv.engine}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestStartClose(t *testing.T) {
	f := testServer(t, nil)

	if err := f.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.srv.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil")
	}

	resp, err := http.Get("http://" + f.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClose_NotStarted(t *testing.T) {
	f := testServer(t, nil)
	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"disconnected engine is degraded", nil, http.StatusOK, "degraded"},
		{"passing check", map[string]HealthChecker{"database": fakeCheck{}}, http.StatusOK, "degraded"},
		{"failing check", map[string]HealthChecker{"influxdb": fakeCheck{err: errors.New("down")}}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testServer(t, tt.checks)
			w := f.do(t, http.MethodGet, "/api/v1/health", "", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp map[string]any
			decode(t, w, &resp)
			if resp["status"] != tt.wantStatus {
				t.Errorf("status field = %v, want %s", resp["status"], tt.wantStatus)
			}
			if resp["connection"] != "disconnected" {
				t.Errorf("connection = %v, want disconnected", resp["connection"])
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	f := testServer(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := testServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := testServer(t, nil)
	wrongSecret, err := auth.GenerateToken("eve", auth.RoleDeveloper, "another-secret-that-is-long-enough!!", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + wrongSecret, http.StatusUnauthorized},
		{"valid", "Bearer " + token(t, "alice", auth.RoleOperator), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := testServer(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "feeder_devices_online") {
		t.Error("exposition missing feeder_devices_online")
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	f := testServer(t, nil)
	op := token(t, "alice", auth.RoleOperator)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"003", "007"}},
		{"?online=true", []string{"003", "007"}},
		{"?online=false", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/devices"+tt.query, op, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				Devices []device.Device `json:"devices"`
				Count   int             `json:"count"`
			}
			decode(t, w, &resp)
			if resp.Count != len(tt.want) {
				t.Fatalf("count = %d, want %d", resp.Count, len(tt.want))
			}
			for i, id := range tt.want {
				if resp.Devices[i].ID != id {
					t.Errorf("devices[%d] = %s, want %s", i, resp.Devices[i].ID, id)
				}
			}
		})
	}

	if w := f.do(t, http.MethodGet, "/api/v1/devices?online=maybe", op, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", w.Code)
	}
}

func TestGetDevice(t *testing.T) {
	f := testServer(t, nil)
	op := token(t, "alice", auth.RoleOperator)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/devices/007", http.StatusOK},
		{"/api/v1/devices/7", http.StatusOK},
		{"/api/v1/devices/099", http.StatusNotFound},
		{"/api/v1/devices/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.path, op, "")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				var d device.Device
				decode(t, w, &d)
				if d.ID != "007" || len(d.Schedule) != 2 {
					t.Errorf("device = %+v", d)
				}
			}
		})
	}
}

func TestDeviceStats(t *testing.T) {
	f := testServer(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/devices/stats", token(t, "alice", auth.RoleOperator), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats device.Stats
	decode(t, w, &stats)
	if stats.TotalDevices != 2 || stats.Online != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestIssueCommand(t *testing.T) {
	dev := "developer"
	op := "operator"

	tests := []struct {
		name      string
		role      string
		id        string
		body      string
		offline   bool
		want      int
		published int
	}{
		{"feed compact", dev, "007", `{"type":"feed_now","portion_grams":50}`, false, http.StatusAccepted, 1},
		{"feed legacy", dev, "003", `{"type":"feed_now","portion_grams":50}`, false, http.StatusAccepted, 1},
		{"operator refused", op, "007", `{"type":"feed_now","portion_grams":50}`, false, http.StatusForbidden, 0},
		{"unknown device", dev, "099", `{"type":"ping"}`, false, http.StatusNotFound, 0},
		{"malformed id", dev, "abc", `{"type":"ping"}`, false, http.StatusBadRequest, 0},
		{"id out of range", dev, "1000", `{"type":"ping"}`, false, http.StatusBadRequest, 0},
		{"malformed id before role check", op, "abc", `{"type":"feed_now","portion_grams":50}`, false, http.StatusForbidden, 0},
		{"portion out of range", dev, "007", `{"type":"feed_now","portion_grams":0}`, false, http.StatusUnprocessableEntity, 0},
		{"transport down", dev, "007", `{"type":"stop"}`, true, http.StatusServiceUnavailable, 0},
		{"unknown type", dev, "007", `{"type":"dance"}`, false, http.StatusBadRequest, 0},
		{"schedule on wrong route", dev, "007", `{"type":"update_schedule"}`, false, http.StatusBadRequest, 0},
		{"missing type", dev, "007", `{}`, false, http.StatusBadRequest, 0},
		{"bad json", dev, "007", `{`, false, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testServer(t, nil)
			if tt.offline {
				f.transport.mu.Lock()
				f.transport.connected = false
				f.transport.mu.Unlock()
			}
			role := auth.RoleDeveloper
			if tt.role == op {
				role = auth.RoleOperator
			}

			w := f.do(t, http.MethodPost, "/api/v1/devices/"+tt.id+"/commands", token(t, "sam", role), tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if got := f.transport.count(); got != tt.published {
				t.Errorf("published = %d, want %d", got, tt.published)
			}
			if w.Code != http.StatusBadRequest {
				var res command.Result
				decode(t, w, &res)
				if res.CommandID == "" {
					t.Error("result has no command id")
				}
			}
		})
	}
}

func TestScheduleEdit(t *testing.T) {
	tests := []struct {
		name string
		role auth.Role
		path string
		body string
		want int
	}{
		{"accepted", auth.RoleDeveloper, "/api/v1/devices/007/schedule/1", `{"hour":19,"minute":0,"portion_grams":150}`, http.StatusAccepted},
		{"operator refused", auth.RoleOperator, "/api/v1/devices/007/schedule/1", `{"hour":19,"minute":0,"portion_grams":150}`, http.StatusForbidden},
		{"hour out of range", auth.RoleDeveloper, "/api/v1/devices/007/schedule/1", `{"hour":25,"minute":0,"portion_grams":150}`, http.StatusUnprocessableEntity},
		{"missing field", auth.RoleDeveloper, "/api/v1/devices/007/schedule/1", `{"hour":19}`, http.StatusBadRequest},
		{"bad index", auth.RoleDeveloper, "/api/v1/devices/007/schedule/x", `{"hour":19,"minute":0,"portion_grams":150}`, http.StatusBadRequest},
		{"slot past schedule", auth.RoleDeveloper, "/api/v1/devices/007/schedule/2", `{"hour":19,"minute":0,"portion_grams":150}`, http.StatusUnprocessableEntity},
		{"malformed device id", auth.RoleDeveloper, "/api/v1/devices/x7/schedule/1", `{"hour":19,"minute":0,"portion_grams":150}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testServer(t, nil)
			w := f.do(t, http.MethodPut, tt.path, token(t, "sam", tt.role), tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}

			d, err := f.registry.Snapshot("007")
			if err != nil {
				t.Fatalf("Snapshot() error = %v", err)
			}
			_, pending := d.PendingEdits[1]
			if pending != (tt.want == http.StatusAccepted) {
				t.Errorf("pending = %v after status %d", pending, w.Code)
			}
			if d.Schedule[1].Hour != 18 {
				t.Errorf("schedule changed before confirmation: %+v", d.Schedule[1])
			}
		})
	}
}

func TestPublishRaw(t *testing.T) {
	tests := []struct {
		name string
		role auth.Role
		body string
		want int
	}{
		{"developer", auth.RoleDeveloper, `{"topic":"a/r/c","payload":"PING"}`, http.StatusAccepted},
		{"operator refused", auth.RoleOperator, `{"topic":"a/r/c","payload":"PING"}`, http.StatusForbidden},
		{"foreign topic", auth.RoleDeveloper, `{"topic":"other/x","payload":"x"}`, http.StatusUnprocessableEntity},
		{"wildcard", auth.RoleDeveloper, `{"topic":"a/r/#","payload":"x"}`, http.StatusUnprocessableEntity},
		{"broken json body", auth.RoleDeveloper, `{"topic":"a/c/cs","payload":"{\"r\":"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testServer(t, nil)
			w := f.do(t, http.MethodPost, "/api/v1/raw", token(t, "sam", tt.role), tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Audit and Connection ──────────────────────────────────────────

func TestListAudit(t *testing.T) {
	f := testServer(t, nil)
	dev := token(t, "sam", auth.RoleDeveloper)
	op := token(t, "alice", auth.RoleOperator)

	f.do(t, http.MethodPost, "/api/v1/devices/007/commands", dev, `{"type":"feed_now","portion_grams":50}`)
	f.do(t, http.MethodPost, "/api/v1/devices/007/commands", op, `{"type":"feed_now","portion_grams":50}`)

	if w := f.do(t, http.MethodGet, "/api/v1/audit", op, ""); w.Code != http.StatusForbidden {
		t.Errorf("operator status = %d, want 403", w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/v1/audit?device_id=007", dev, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var page audit.ListResult
	decode(t, w, &page)
	if page.Total != 2 || len(page.Entries) != 2 {
		t.Fatalf("page = %+v", page)
	}

	w = f.do(t, http.MethodGet, "/api/v1/audit?outcome=rejected", dev, "")
	decode(t, w, &page)
	if page.Total != 1 || page.Entries[0].Subject != "alice" || page.Entries[0].Role != "operator" {
		t.Errorf("rejected entries = %+v", page.Entries)
	}

	if w := f.do(t, http.MethodGet, "/api/v1/audit?limit=-1", dev, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestConnection(t *testing.T) {
	f := testServer(t, nil)

	if w := f.do(t, http.MethodGet, "/api/v1/connection", token(t, "alice", auth.RoleOperator), ""); w.Code != http.StatusForbidden {
		t.Errorf("operator status = %d, want 403", w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/v1/connection", token(t, "sam", auth.RoleDeveloper), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["state"] != "disconnected" || resp["dropped"] != float64(0) {
		t.Errorf("connection = %v", resp)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestTickets(t *testing.T) {
	ts := newTicketStore()
	p := auth.StaticPrincipal{Subject: "alice", Role: auth.RoleOperator}

	ticket := ts.issue(p)
	got, ok := ts.consume(ticket)
	if !ok || got.Name() != "alice" {
		t.Fatalf("consume() = %v, %v", got, ok)
	}
	if _, ok := ts.consume(ticket); ok {
		t.Error("ticket reused")
	}

	now := time.Now()
	ts.now = func() time.Time { return now }
	stale := ts.issue(p)
	ts.now = func() time.Time { return now.Add(ticketTTL) }
	if _, ok := ts.consume(stale); ok {
		t.Error("expired ticket accepted")
	}

	ts.issue(p)
	ts.now = func() time.Time { return now.Add(2 * ticketTTL) }
	ts.cleanExpired()
	if ts.len() != 0 {
		t.Errorf("tickets after clean = %d, want 0", ts.len())
	}
}

func TestWSTicketEndpoint(t *testing.T) {
	f := testServer(t, nil)

	if w := f.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", token(t, "alice", auth.RoleOperator), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	ticket, _ := resp["ticket"].(string)
	p, ok := f.srv.tickets.consume(ticket)
	if !ok || p.Name() != "alice" {
		t.Errorf("ticket principal = %v, %v", p, ok)
	}
}

func newTestHub() *Hub {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log, nil)
}

func testClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	c := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: subs}
	hub.Register(c)
	return c
}

func TestHub_Relay(t *testing.T) {
	hub := newTestHub()
	online := testClient(hub, string(engine.KindDeviceOnline))
	all := testClient(hub, WSChannelAll)
	other := testClient(hub, string(engine.KindFoodAlert))

	hub.Relay(engine.ChangeEvent{Kind: engine.KindDeviceOnline, DeviceID: "007", At: time.Now()})

	for name, c := range map[string]*WSClient{"online": online, "all": all} {
		select {
		case raw := <-c.send:
			var msg WSMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type != WSTypeEvent || msg.EventType != "device.online" {
				t.Errorf("%s got %+v", name, msg)
			}
		case <-time.After(time.Second):
			t.Errorf("%s client received nothing", name)
		}
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client received event")
	default:
	}
}

func TestHub_DropsForFullClient(t *testing.T) {
	hub := newTestHub()
	slow := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{WSChannelAll: {}}}
	hub.Register(slow)

	hub.Relay(engine.ChangeEvent{Kind: engine.KindDeviceOnline, DeviceID: "007"})
	hub.Relay(engine.ChangeEvent{Kind: engine.KindDeviceOffline, DeviceID: "007"})

	if got := hub.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if len(slow.send) != 1 {
		t.Errorf("queued = %d, want 1", len(slow.send))
	}
}

func TestHub_EventTimestamp(t *testing.T) {
	hub := newTestHub()
	c := testClient(hub, WSChannelAll)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	hub.Relay(engine.ChangeEvent{Kind: engine.KindFoodAlert, DeviceID: "003", At: at})

	var msg WSMessage
	if err := json.Unmarshal(<-c.send, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Timestamp != "2026-03-01T08:00:00Z" {
		t.Errorf("timestamp = %q, want the event time", msg.Timestamp)
	}
}

func TestWSClient_Subscriptions(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType string
		wantSubs []string
	}{
		{"subscribe kind", `{"type":"subscribe","id":"1","payload":{"channels":["device.offline"]}}`, WSTypeResponse, []string{"device.offline"}},
		{"subscribe all", `{"type":"subscribe","id":"2","payload":{"channels":["*"]}}`, WSTypeResponse, []string{"*"}},
		{"unknown channel", `{"type":"subscribe","id":"3","payload":{"channels":["device.offline","devices"]}}`, WSTypeError, nil},
		{"no channels", `{"type":"subscribe","id":"4","payload":{}}`, WSTypeError, nil},
		{"missing payload", `{"type":"subscribe","id":"5"}`, WSTypeError, nil},
		{"ping", `{"type":"ping","id":"6"}`, WSTypePong, nil},
		{"unknown type", `{"type":"hello","id":"7"}`, WSTypeError, nil},
		{"not json", `hello`, WSTypeError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(newTestHub())
			c.handleMessage([]byte(tt.frame))

			var msg WSMessage
			if err := json.Unmarshal(<-c.send, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q (%+v)", msg.Type, tt.wantType, msg)
			}
			if len(c.subscriptions) != len(tt.wantSubs) {
				t.Errorf("subscriptions = %v, want %v", c.subscriptions, tt.wantSubs)
			}
			for _, ch := range tt.wantSubs {
				if !c.isSubscribed(ch) {
					t.Errorf("not subscribed to %q", ch)
				}
			}
		})
	}
}

func TestWSClient_Unsubscribe(t *testing.T) {
	c := testClient(newTestHub(), "device.online", "alert.food")
	c.handleMessage([]byte(`{"type":"unsubscribe","id":"1","payload":{"channels":["alert.food"]}}`))
	<-c.send

	if c.isSubscribed("alert.food") {
		t.Error("still subscribed to alert.food")
	}
	if !c.isSubscribed("device.online") {
		t.Error("lost device.online subscription")
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub()
	c := testClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("count = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	f := testServer(t, nil)
	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(url+"?ticket=bogus", nil); err == nil {
		t.Fatal("dial with bogus ticket succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus ticket status = %d, want 401", resp.StatusCode)
	}

	ticket := f.srv.tickets.issue(auth.StaticPrincipal{Subject: "alice", Role: auth.RoleOperator})
	conn, _, err := websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // Test deadline

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"alert.food"}, Snapshot: true}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}
	ackBody, _ := json.Marshal(ack.Payload)
	if !bytes.Contains(ackBody, []byte(`"id":"007"`)) || !bytes.Contains(ackBody, []byte(`"id":"003"`)) {
		t.Errorf("subscribe snapshot = %s, want both devices", ackBody)
	}

	f.srv.hub.Relay(engine.ChangeEvent{Kind: engine.KindFoodAlert, DeviceID: "007", At: time.Now()})

	var evt WSMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.EventType != "alert.food" {
		t.Errorf("event = %+v", evt)
	}
	payload, _ := json.Marshal(evt.Payload)
	if !bytes.Contains(payload, []byte(`"device_id":"007"`)) {
		t.Errorf("payload = %s", payload)
	}
}

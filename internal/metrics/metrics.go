// Package metrics defines the Prometheus collectors for the feeder core.
//
// Every method is safe on a nil *Metrics, so components can take one
// without requiring metrics to be configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feeder"

// Metrics holds the core's collectors.
type Metrics struct {
	MessagesTotal   *prometheus.CounterVec // by event kind
	MessagesDropped prometheus.Counter
	CommandsTotal   *prometheus.CounterVec // by command and outcome
	DevicesOnline   prometheus.Gauge
	DevicesTotal    prometheus.Gauge
	OfflineTotal    prometheus.Counter
	EditsExpired    prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with a fresh registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := newMetrics()
	m.gatherer = reg

	for _, c := range []prometheus.Collector{
		m.MessagesTotal,
		m.MessagesDropped,
		m.CommandsTotal,
		m.DevicesOnline,
		m.DevicesTotal,
		m.OfflineTotal,
		m.EditsExpired,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound bus messages by decoded kind",
		}, []string{"kind"}),

		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped because the intake queue was full",
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command attempts by command and outcome",
		}, []string{"command", "outcome"}),

		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_online",
			Help:      "Devices currently online",
		}),

		DevicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_total",
			Help:      "Devices known to the registry",
		}),

		OfflineTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_transitions_total",
			Help:      "Online to offline transitions detected by the liveness sweep",
		}),

		EditsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_edits_expired_total",
			Help:      "Schedule edits that were never confirmed by the device",
		}),
	}
}

// MessageReceived counts one decoded inbound message.
func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind).Inc()
}

// MessageDropped counts one message lost to intake overflow.
func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

// CommandIssued counts one command attempt.
func (m *Metrics) CommandIssued(command, outcome string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
}

// DeviceWentOffline counts one liveness demotion.
func (m *Metrics) DeviceWentOffline() {
	if m == nil {
		return
	}
	m.OfflineTotal.Inc()
}

// EditExpired counts one unconfirmed schedule edit.
func (m *Metrics) EditExpired() {
	if m == nil {
		return
	}
	m.EditsExpired.Inc()
}

// SetDevices updates the device gauges.
func (m *Metrics) SetDevices(total, online int) {
	if m == nil {
		return
	}
	m.DevicesTotal.Set(float64(total))
	m.DevicesOnline.Set(float64(online))
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Package metrics exposes controller state and delivery failures to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

const namespace = "reefer"

// Metrics holds the collectors. Each instance owns its registry so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	temperature       prometheus.Gauge
	sampleValid       prometheus.Gauge
	alarmActive       prometheus.Gauge
	alarmAcknowledged prometheus.Gauge
	relayOn           prometheus.Gauge
	buzzerOn          prometheus.Gauge
	doorOpen          prometheus.Gauge
	phase             *prometheus.GaugeVec
	cooldownRemaining prometheus.Gauge
	alarmsTotal       prometheus.Gauge

	events        *prometheus.CounterVec
	skips         *prometheus.CounterVec
	debounced     *prometheus.CounterVec
	notifyFailure *prometheus.CounterVec
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func counterVec(name, help, label string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, []string{label})
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry:          prometheus.NewRegistry(),
		temperature:       gauge("temperature_celsius", "Average of the valid sensors"),
		sampleValid:       gauge("sample_valid", "1 if the last temperature sample was valid"),
		alarmActive:       gauge("alarm_active", "1 while an alarm is active"),
		alarmAcknowledged: gauge("alarm_acknowledged", "1 while the active alarm is acknowledged"),
		relayOn:           gauge("relay_on", "Alarm relay output state"),
		buzzerOn:          gauge("buzzer_on", "Buzzer output state"),
		doorOpen:          gauge("door_open", "1 while the door is open"),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "defrost_phase",
			Help:      "1 for the current defrost phase",
		}, []string{"phase"}),
		cooldownRemaining: gauge("cooldown_remaining_seconds", "Remaining post-defrost cooldown"),
		alarmsTotal:       gauge("alarms_triggered", "Alarm triggers since startup"),
		events:            counterVec("events_total", "Events emitted by kind", "kind"),
		skips:             counterVec("evaluation_skips_total", "Ticks where alarm evaluation was skipped", "reason"),
		debounced:         counterVec("debounced_total", "Transitions rejected inside their debounce window", "kind"),
		notifyFailure:     counterVec("notification_failures_total", "Failed notification deliveries by channel", "channel"),
	}

	m.registry.MustRegister(
		m.temperature, m.sampleValid, m.alarmActive, m.alarmAcknowledged,
		m.relayOn, m.buzzerOn, m.doorOpen, m.phase, m.cooldownRemaining, m.alarmsTotal,
		m.events, m.skips, m.debounced, m.notifyFailure,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSnapshot updates the state gauges.
func (m *Metrics) ObserveSnapshot(s logic.Snapshot) {
	if s.Sample.Valid {
		m.temperature.Set(s.Sample.Average)
	}
	m.sampleValid.Set(b2f(s.Sample.Valid))
	m.alarmActive.Set(b2f(s.Alarm.Active))
	m.alarmAcknowledged.Set(b2f(s.Alarm.Acknowledged))
	m.relayOn.Set(b2f(s.RelayOn))
	m.buzzerOn.Set(b2f(s.BuzzerOn))
	m.doorOpen.Set(b2f(s.Door.Open))
	for _, p := range []logic.DefrostPhase{logic.PhaseIdle, logic.PhaseDefrosting, logic.PhaseCooldown} {
		m.phase.WithLabelValues(string(p)).Set(b2f(s.Phase == p))
	}
	m.cooldownRemaining.Set(s.Defrost.CooldownRemaining.Seconds())
	m.alarmsTotal.Set(float64(s.Alarm.TotalTriggered))
}

// ObserveOutput counts the events, skips and debounced transitions of one tick or command.
func (m *Metrics) ObserveOutput(out logic.Output) {
	for _, e := range out.Events {
		m.events.WithLabelValues(string(e.Kind)).Inc()
	}
	if out.Skip != logic.SkipNone {
		m.skips.WithLabelValues(string(out.Skip)).Inc()
	}
	for _, k := range out.Debounced {
		m.debounced.WithLabelValues(string(k)).Inc()
	}
}

// NotificationFailed counts a failed delivery on channel.
func (m *Metrics) NotificationFailed(channel string) {
	m.notifyFailure.WithLabelValues(channel).Inc()
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

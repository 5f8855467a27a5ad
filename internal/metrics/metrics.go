// Package metrics exposes daemon counters and gauges for Prometheus.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/step-sensor/internal/logic"
)

const namespace = "step_sensor"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	readings       prometheus.Counter
	rejected       prometheus.Counter
	goalReached    *prometheus.CounterVec
	persistErrors  prometheus.Counter
	publishErrors  prometheus.Counter
	sensorRestarts prometheus.Counter

	steps           prometheus.Gauge
	waterML         prometheus.Gauge
	sensorAvailable prometheus.Gauge
}

// New creates the collectors and registers them with Go runtime and
// process collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Sensor readings processed while the sensor was available.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Readings rejected by the monotonic guard.",
		}),
		goalReached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goal_reached_total",
			Help:      "Daily goals reached, by metric.",
		}, []string{"metric"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed writes to the state store.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed notification publishes.",
		}),
		sensorRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_restarts_total",
			Help:      "Sensor subscriptions re-opened by the liveness watchdog.",
		}),
		steps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "steps",
			Help:      "Steps displayed for the current day.",
		}),
		waterML: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "water_ml",
			Help:      "Water intake for the current day in milliliters.",
		}),
		sensorAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_available",
			Help:      "1 if the step sensor is delivering readings.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readings, m.rejected, m.goalReached,
		m.persistErrors, m.publishErrors, m.sensorRestarts,
		m.steps, m.waterML, m.sensorAvailable,
	)
	// Pre-create both label values so dashboards show zero, not absent.
	m.goalReached.WithLabelValues(string(logic.MetricSteps))
	m.goalReached.WithLabelValues(string(logic.MetricWater))
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Reading counts a processed reading.
func (m *Metrics) Reading(rejected bool) {
	if m == nil {
		return
	}
	m.readings.Inc()
	if rejected {
		m.rejected.Inc()
	}
}

// GoalReached counts an achievement.
func (m *Metrics) GoalReached(metric logic.Metric) {
	if m == nil {
		return
	}
	m.goalReached.WithLabelValues(string(metric)).Inc()
}

// PersistError counts a failed store write.
func (m *Metrics) PersistError() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}

// PublishError counts a failed publish.
func (m *Metrics) PublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

// SensorRestart counts a watchdog resubscribe.
func (m *Metrics) SensorRestart() {
	if m == nil {
		return
	}
	m.sensorRestarts.Inc()
}

// SetState updates the gauges from the tracker state.
func (m *Metrics) SetState(st logic.State) {
	if m == nil {
		return
	}
	m.steps.Set(float64(st.Steps))
	m.waterML.Set(float64(st.WaterML))
	if st.SensorAvailable {
		m.sensorAvailable.Set(1)
	} else {
		m.sensorAvailable.Set(0)
	}
}

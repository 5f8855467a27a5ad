package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/step-sensor/internal/logic"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Reading(false)
	m.Reading(true)
	m.GoalReached(logic.MetricWater)
	m.PersistError()
	m.PublishError()
	m.PublishError()
	m.SensorRestart()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.readings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.goalReached.WithLabelValues("water")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.goalReached.WithLabelValues("steps")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorRestarts))
}

func TestSetState(t *testing.T) {
	m := New()
	m.SetState(logic.State{Steps: 4200, WaterML: 500, SensorAvailable: true})

	assert.Equal(t, 4200.0, testutil.ToFloat64(m.steps))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.waterML))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorAvailable))

	m.SetState(logic.State{Steps: 4200})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sensorAvailable))
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.GoalReached(logic.MetricSteps)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `step_sensor_goal_reached_total{metric="steps"} 1`)
	assert.Contains(t, string(body), "step_sensor_readings_total 0")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Reading(true)
	m.GoalReached(logic.MetricSteps)
	m.PersistError()
	m.PublishError()
	m.SensorRestart()
	m.SetState(logic.State{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

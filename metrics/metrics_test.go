package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Deploy(ResultSuccess)
		m.Stage("mount", time.Second, errors.New("x"))
		m.Inflight()()
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Deploy(ResultSuccess)
	m.Deploy(ResultRejected)
	m.Deploy(ResultRejected)
	m.Stage("mount", time.Millisecond, errors.New("mount failed"))
	m.Stage("mount", time.Millisecond, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.deploys.WithLabelValues(ResultSuccess)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.deploys.WithLabelValues(ResultRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.stageFailures.WithLabelValues("mount")), 0)

	done := m.Inflight()
	assert.InDelta(t, 1, testutil.ToFloat64(m.inflight), 0)
	done()
	assert.InDelta(t, 0, testutil.ToFloat64(m.inflight), 0)
}

func TestHandlerExposesInstruments(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Deploy(ResultFailed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sparklane_deploys_total{result="failed"} 1`)
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(false)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ZonesCreated.WithLabelValues("H1", "order_block", "bullish").Inc()
	m.ZonesCreated.WithLabelValues("H1", "order_block", "bullish").Inc()
	m.TrackerZones.WithLabelValues("M15").Set(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ZonesCreated.WithLabelValues("H1", "order_block", "bullish")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TrackerZones.WithLabelValues("M15")))

	assert.Panics(t, func() { NewMetrics(reg) }, "double registration must panic")
}

func TestServer_MetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AggregatedZones.Set(4)

	health := NewHealthStatus()
	srv := NewServer(":0", health, reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "zones_aggregated 4"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthStatus()
	h.EnableRedis()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	h.EnableSQLite()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestHealth_RecordRun(t *testing.T) {
	h := NewHealthStatus()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	h.RecordRun("run-1", at, 12, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_run_id":"run-1"`)
	assert.Contains(t, rec.Body.String(), `"last_run_zones":12`)

	h.RecordRun("run-2", at, 0, errors.New("no candles"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no candles")
}

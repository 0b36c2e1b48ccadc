package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats map[string]any

func (s staticStats) Stats() map[string]any { return s }

func TestHealthServer_ReadyReflectsChecks(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0")
	h.AddCheck("database", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddCheck("starknet", func(ctx context.Context) error { return errors.New("rpc unreachable") })

	rec = httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "database", status.Checks[0].Name)
	assert.Equal(t, "rpc unreachable", status.Checks[1].Error)
}

func TestHealthServer_LiveAndStatus(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0")
	h.AddStats("engine_cache", staticStats{"size": 3})

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"engine_cache":{"size":3}`)
}

func TestGetMetrics_Singleton(t *testing.T) {
	assert.Same(t, GetMetrics(), GetMetrics())
	IncDecision("swing", "HOLD")
	IncSettlement("executed")
}

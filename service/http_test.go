package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisim/simkernel/dataflow"
	"github.com/agrisim/simkernel/health"
	"github.com/agrisim/simkernel/metric"
	"github.com/agrisim/simkernel/orchestrator"
	"github.com/agrisim/simkernel/subsystem"
)

type fakeKernel struct {
	snapshot orchestrator.Snapshot
	status   health.Status
}

func (f *fakeKernel) Snapshot() orchestrator.Snapshot { return f.snapshot }
func (f *fakeKernel) Health() health.Status           { return f.status }

func testSnapshot() orchestrator.Snapshot {
	return orchestrator.Snapshot{
		Timestamp:     time.Now(),
		OverallHealth: "healthy",
		CreateOrder:   []subsystem.Kind{subsystem.KindEconomy},
		Subsystems: []subsystem.View{
			{Kind: subsystem.KindEconomy, Name: "economy", Status: "active"},
		},
		Routes: []dataflow.RouteStats{
			{
				Source: subsystem.KindWeather, Target: subsystem.KindCropGrowth,
				MessageKind: "weather_update", Priority: "normal",
				Enabled: true, Processed: 3,
			},
		},
		QueueDepths: map[string]int{"crop_growth": 0},
	}
}

func newTestServer(status health.Status) *httptest.Server {
	kernel := &fakeKernel{snapshot: testSnapshot(), status: status}
	s := NewStatusServer(kernel, DefaultServerConfig(), nil, metric.NewRegistry())
	mux := http.NewServeMux()
	s.RegisterHandlers(mux)
	return httptest.NewServer(mux)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(health.StatusHealthy)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap orchestrator.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "healthy", snap.OverallHealth)
	require.Len(t, snap.Subsystems, 1)
	assert.Equal(t, "active", snap.Subsystems[0].Status)
}

func TestSubsystemsAndRoutesEndpoints(t *testing.T) {
	ts := newTestServer(health.StatusHealthy)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/subsystems")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var views []subsystem.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "economy", views[0].Name)

	resp, err = http.Get(ts.URL + "/api/v1/routes")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var routes []dataflow.RouteStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&routes))
	require.Len(t, routes, 1)
	assert.Equal(t, int64(3), routes[0].Processed)
}

func TestHealthzStatusCodes(t *testing.T) {
	tests := []struct {
		status health.Status
		code   int
	}{
		{health.StatusHealthy, http.StatusOK},
		{health.StatusWarning, http.StatusOK},
		{health.StatusDegraded, http.StatusServiceUnavailable},
		{health.StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			ts := newTestServer(tt.status)
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/healthz")
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.code, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status.String(), body["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(health.StatusHealthy)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(health.StatusHealthy)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/status", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

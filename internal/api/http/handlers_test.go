package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/router"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/streams"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/supervisor"
)

type fakeStatus struct {
	state   supervisor.State
	err     error
	streams []streams.Handle
	diags   []router.Diagnostic
	subs    int
}

func (f *fakeStatus) State() supervisor.State          { return f.state }
func (f *fakeStatus) Err() error                       { return f.err }
func (f *fakeStatus) Streams() []streams.Handle        { return f.streams }
func (f *fakeStatus) Diagnostics() []router.Diagnostic { return f.diags }
func (f *fakeStatus) Subscribers() int                 { return f.subs }

func setup(status Status, metrics *monitoring.Metrics) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandlers(status, metrics, nil).Register(r)
	return r
}

func do(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func sampleStreams() []streams.Handle {
	now := time.Now()
	return []streams.Handle{
		{ID: "srv_1", ClientID: "stream_a", Kind: "script_generation", Owner: "sub_1", Status: streams.Active, CreatedAt: now},
		{ID: "stream_b", ClientID: "stream_b", Kind: "trend_monitoring", Owner: "sub_2", Status: streams.Failed, Error: "connection lost", CreatedAt: now},
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		status   *fakeStatus
		wantCode int
		wantErr  string
	}{
		{
			name:     "open",
			status:   &fakeStatus{state: supervisor.Open, subs: 2, streams: sampleStreams()},
			wantCode: http.StatusOK,
		},
		{
			name:     "reconnecting",
			status:   &fakeStatus{state: supervisor.Reconnecting, err: errors.New("connection read failed: EOF")},
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "connection read failed: EOF",
		},
		{
			name:     "idle",
			status:   &fakeStatus{state: supervisor.Idle},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(setup(tt.status, nil), "/healthz")
			assert.Equal(t, tt.wantCode, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status.state.String(), resp.State)
			assert.Equal(t, tt.wantErr, resp.Error)
		})
	}
}

func TestHealthCountsLiveStreams(t *testing.T) {
	w := do(setup(&fakeStatus{state: supervisor.Open, subs: 2, streams: sampleStreams()}, nil), "/healthz")

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.LiveStreams)
	assert.Equal(t, 2, resp.Subscribers)
}

func TestListStreams(t *testing.T) {
	r := setup(&fakeStatus{state: supervisor.Open, streams: sampleStreams()}, nil)

	var body struct {
		Streams []map[string]any `json:"streams"`
		Count   int              `json:"count"`
	}

	w := do(r, "/streams")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "active", body.Streams[0]["status"])

	w = do(r, "/streams?status=failed")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "stream_b", body.Streams[0]["id"])

	w = do(r, "/streams?owner=nobody")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
	assert.NotNil(t, body.Streams)
}

func TestGetStream(t *testing.T) {
	r := setup(&fakeStatus{state: supervisor.Open, streams: sampleStreams()}, nil)

	assert.Equal(t, http.StatusOK, do(r, "/streams/srv_1").Code)
	assert.Equal(t, http.StatusOK, do(r, "/streams/stream_a").Code)
	assert.Equal(t, http.StatusNotFound, do(r, "/streams/missing").Code)
}

func TestDiagnostics(t *testing.T) {
	r := setup(&fakeStatus{}, nil)
	w := do(r, "/diagnostics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"diagnostics":[],"count":0}`, w.Body.String())

	r = setup(&fakeStatus{diags: []router.Diagnostic{
		{Kind: router.KindMalformedFrame, Size: 9, Error: "malformed frame"},
	}}, nil)
	w = do(r, "/diagnostics")
	assert.Contains(t, w.Body.String(), `"kind":"malformed_frame"`)
}

func TestMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	metrics.IncMalformedFrames()
	r := setup(&fakeStatus{}, metrics)

	w := do(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "malformed"), "exposition mentions the malformed frame counter")

	w = do(r, "/metrics/json")
	require.Equal(t, http.StatusOK, w.Code)
	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap.MalformedFrames)
}

func TestMetricsDisabled(t *testing.T) {
	r := setup(&fakeStatus{}, nil)
	assert.Equal(t, http.StatusNotFound, do(r, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, do(r, "/metrics/json").Code)
}

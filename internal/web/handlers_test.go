package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/state"
)

type fakePipeline struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	running  bool
	started  []pipeline.Config
	snap     *metrics.Snapshot
	lastErr  string
}

func (f *fakePipeline) StartPipeline(ctx context.Context, cfg pipeline.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cfg)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	f.snap = &metrics.Snapshot{}
	return nil
}

func (f *fakePipeline) StopPipeline(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return false, f.stopErr
	}
	was := f.running
	f.running = false
	return was, nil
}

func (f *fakePipeline) Status() pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := pipeline.Status{State: pipeline.StateStopped, Metrics: f.snap, LastError: f.lastErr}
	if f.running {
		status.Running = true
		status.State = pipeline.StateRunning
		status.RunID = "run-1"
	}
	return status
}

type fakeRuns struct {
	runs []state.Run
	err  error
}

func (f *fakeRuns) ListRuns(ctx context.Context, limit int) ([]state.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeRuns) GetRun(ctx context.Context, id string) (*state.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, nil
}

type fakeHealth struct{}

func (fakeHealth) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, rawPort, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(rawPort)
	require.NoError(t, err)
	return port
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const startBody = `{
	"input_rtmp_url": "rtmp://localhost:1935/live/stream",
	"output_rtmp_url": "rtmp://localhost:1935/live/processed",
	"model_weights_path": "/weights/yolo11n-obb.onnx",
	"fps": 25
}`

func TestHandleRoot(t *testing.T) {
	server := setupTestServer(t, &fakePipeline{})
	server.SetVersion("1.2.3")

	w := doRequest(server.Handler(), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, ServiceName, body["service"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestHandleStart(t *testing.T) {
	ctrl := &fakePipeline{}
	server := setupTestServer(t, ctrl)

	w := doRequest(server.Handler(), http.MethodPost, "/start", startBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "run-1", body["run_id"])

	require.Len(t, ctrl.started, 1)
	cfg := ctrl.started[0]
	assert.Equal(t, "rtmp://localhost:1935/live/stream", cfg.InputURL)
	assert.Equal(t, "/weights/yolo11n-obb.onnx", cfg.ModelPath)
	assert.Equal(t, 25, cfg.FPS)
	assert.Zero(t, cfg.Width, "defaults are applied by the controller")
}

func TestHandleStart_Errors(t *testing.T) {
	configErr := &pipeline.Error{
		Kind: pipeline.KindConfiguration,
		Op:   "check model",
		Err:  errors.New("model file not found: /weights/missing.onnx"),
	}
	connErr := &pipeline.Error{
		Kind: pipeline.KindConnection,
		Op:   "connect input",
		Err:  errors.New("connection refused"),
	}

	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{"malformed body", `{"input_rtmp_url":`, nil, http.StatusBadRequest},
		{"wrong type", `{"fps":"thirty"}`, nil, http.StatusBadRequest},
		{"configuration error", startBody, configErr, http.StatusBadRequest},
		{"connection error", startBody, connErr, http.StatusInternalServerError},
		{"wrapped configuration error", startBody, fmt.Errorf("start: %w", configErr), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t, &fakePipeline{startErr: tt.startErr})
			w := doRequest(server.Handler(), http.MethodPost, "/start", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestHandleStop(t *testing.T) {
	ctrl := &fakePipeline{}
	server := setupTestServer(t, ctrl)
	handler := server.Handler()

	w := doRequest(handler, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "warning", decode(t, w)["status"])

	require.NoError(t, ctrl.StartPipeline(context.Background(), pipeline.Config{}))
	w = doRequest(handler, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", decode(t, w)["status"])

	ctrl.stopErr = errors.New("encoder did not exit")
	w = doRequest(handler, http.MethodPost, "/stop", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleStatus(t *testing.T) {
	ctrl := &fakePipeline{}
	server := setupTestServer(t, ctrl)
	handler := server.Handler()

	w := doRequest(handler, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, false, body["is_processing"])
	assert.Nil(t, body["metrics"])

	require.NoError(t, ctrl.StartPipeline(context.Background(), pipeline.Config{}))
	ctrl.snap.FPS = 29.8
	ctrl.snap.FramesProcessed = 42

	w = doRequest(handler, http.MethodGet, "/status", "")
	body = decode(t, w)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, true, body["is_processing"])
	assert.Equal(t, "run-1", body["run_id"])

	m, ok := body["metrics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 29.8, m["fps"])
	assert.Equal(t, float64(42), m["frames_processed"])

	ctrl.running = false
	ctrl.lastErr = "encoder_pipe error during write frame: encoder pipe broken"
	body = decode(t, doRequest(handler, http.MethodGet, "/status", ""))
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, ctrl.lastErr, body["last_error"])
	assert.NotNil(t, body["metrics"], "metrics of the last run stay readable")
}

func TestHandleRuns(t *testing.T) {
	stopped := time.Now()
	runs := &fakeRuns{runs: []state.Run{
		{ID: "b", InputURL: "rtmp://in", StartedAt: time.Now()},
		{ID: "a", InputURL: "rtmp://in", StartedAt: time.Now().Add(-time.Hour), StoppedAt: &stopped, StopReason: "stopped", Frames: 900},
	}}
	server := setupTestServer(t, &fakePipeline{})
	server.SetRunStore(runs)
	handler := server.Handler()

	w := doRequest(handler, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = doRequest(handler, http.MethodGet, "/api/runs?limit=1", "")
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = doRequest(handler, http.MethodGet, "/api/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(handler, http.MethodGet, "/api/runs/a", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "stopped", body["stop_reason"])
	assert.Equal(t, float64(900), body["frames"])

	w = doRequest(handler, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	runs.err = errors.New("database is locked")
	w = doRequest(handler, http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleRuns_Unavailable(t *testing.T) {
	server := setupTestServer(t, &fakePipeline{})
	w := doRequest(server.Handler(), http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOptionalRoutes(t *testing.T) {
	ctrl := &fakePipeline{}
	exporter := metrics.NewExporter("obbstream", func() (metrics.Snapshot, bool) {
		return metrics.Snapshot{FPS: 12.5}, true
	})

	server := setupTestServer(t, ctrl)
	server.SetHealth(fakeHealth{})
	server.SetMetricsHandler(exporter.Handler())
	handler := server.Handler()

	w := doRequest(handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "obbstream_pipeline_fps 12.5")
}

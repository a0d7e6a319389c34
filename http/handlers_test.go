package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"irisnet/config"
	"irisnet/db"
	"irisnet/monitoring"
	"irisnet/pipeline"
)

type testEnv struct {
	server *Server
	store  *db.Store
	runner *pipeline.Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Dataset.Seed = 3
	cfg.Training.MaxEpochs = 300
	cfg.Training.ModelPath = filepath.Join(dir, "iris.json")
	cfg.Training.PlotPath = ""
	cfg.Database.Path = filepath.Join(dir, "runs.db")

	store, err := db.Open(cfg.Database)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := monitoring.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	metrics := monitoring.NewMetricsCollector()
	runner := pipeline.NewRunner(cfg, pipeline.WithStore(store), pipeline.WithPublisher(hub), pipeline.WithMetrics(metrics))
	server, err := NewServer(DefaultServerConfig(), store, runner, hub, metrics, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(server.cancel)
	return &testEnv{server: server, store: store, runner: runner}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return payload
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	payload := decodeBody(t, w)
	if payload["status"] != "ok" || payload["training"] != false {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
}

func TestRunHandlers(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if runs := decodeBody(t, w)["runs"].([]interface{}); len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "missing run", path: "/api/runs/42", code: http.StatusNotFound},
		{name: "bad id", path: "/api/runs/abc", code: http.StatusBadRequest},
		{name: "missing epochs", path: "/api/runs/42/epochs", code: http.StatusNotFound},
		{name: "bad limit", path: "/api/runs?limit=-1", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodGet, tt.path, nil); w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestClassifyWithoutModel(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/classify", []byte(`{"measurements":[5.1,3.5,1.4,0.2]}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestClassifyAfterRun(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/classify", []byte(`{"measurements":[5.1,3.5,1.4,0.2]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp classifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RunID != result.RunID {
		t.Fatalf("expected run %d, got %d", result.RunID, resp.RunID)
	}
	if resp.Label == "" {
		t.Fatalf("unexpected label %q", resp.Label)
	}
	if len(resp.Features) != 4 {
		t.Fatalf("expected 4 features, got %v", resp.Features)
	}
	if env.server.models.Len() != 1 {
		t.Fatalf("expected the model to be cached")
	}

	w = env.do(t, http.MethodPost, "/api/classify", []byte(`{"measurements":[5.1,3.5]}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short input, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/classify", []byte(`not json`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/metrics", nil)
	if !strings.Contains(w.Body.String(), "irisnet_training_runs_total 1") {
		t.Fatalf("expected run counter in metrics, got:\n%s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/runs/1/epochs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if errs := decodeBody(t, w)["errors"].([]interface{}); len(errs) != result.Training.Epochs {
		t.Fatalf("expected %d epoch errors, got %d", result.Training.Epochs, len(errs))
	}
}

func TestTrainConflict(t *testing.T) {
	env := newTestEnv(t)
	cfg := *env.runner.Config()
	cfg.Training.Threshold = 1e-12
	cfg.Training.MaxEpochs = 0
	env.runner.SetConfig(&cfg)

	if w := env.do(t, http.MethodPost, "/api/train", nil); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/train", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	env.server.cancel()
	deadline := time.Now().Add(10 * time.Second)
	for env.runner.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("run did not stop after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTrainingWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws/training", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

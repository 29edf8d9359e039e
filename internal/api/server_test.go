package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/api/response"
	"github.com/newthinker/quantsim/internal/app"
	"github.com/newthinker/quantsim/internal/collector/csvfile"
	"github.com/newthinker/quantsim/internal/config"
	"github.com/newthinker/quantsim/internal/strategy/strategytest"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	closes := strategytest.Ramp(30, 100, -1)
	closes = append(closes, strategytest.Ramp(30, closes[29], 1.5)...)
	for _, symbol := range []string{"AAPL", "MSFT"} {
		f, err := os.Create(filepath.Join(dataDir, symbol+".csv"))
		require.NoError(t, err)
		require.NoError(t, csvfile.Write(f, strategytest.Bars(symbol, closes...)))
		require.NoError(t, f.Close())
	}

	cfg := config.Defaults()
	cfg.Data.Dir = dataDir
	cfg.Data.Symbols = []string{"AAPL", "MSFT"}
	cfg.Storage.IndexPath = filepath.Join(dir, "runs.db")

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	a := newTestApp(t)
	srv, err := NewServer(Config{Host: "localhost", Port: 0, APIKey: apiKey, MaxJobs: 10},
		Dependencies{Runner: a, Metrics: a.Metrics()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func serve(srv *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Data.(map[string]any)
}

func TestNewServer_NeedsRunner(t *testing.T) {
	_, err := NewServer(Config{}, Dependencies{}, nil)
	assert.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, "secret")

	w := serve(srv, "GET", "/api/health", "")

	assert.Equal(t, http.StatusOK, w.Code, "health is not behind auth")
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_APIAuth(t *testing.T) {
	srv := newTestServer(t, "test-key")

	w := serve(srv, "GET", "/api/v1/strategies", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(srv, "GET", "/api/v1/strategies", "", "X-API-Key", "test-key")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_APIAuth_Disabled(t *testing.T) {
	srv := newTestServer(t, "")

	w := serve(srv, "GET", "/api/v1/strategies", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, data(t, w)["strategies"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, "")

	w := serve(srv, "GET", "/api/v1/backtest", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Signals(t *testing.T) {
	srv := newTestServer(t, "")

	w := serve(srv, "POST", "/api/v1/signals",
		`{"strategy": {"name": "sma_crossover", "params": {"short_period": 3, "long_period": 10}}, "data": {"symbols": ["AAPL"]}}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := data(t, w)
	assert.Greater(t, d["count"], float64(0))
	for _, ev := range d["signals"].([]any) {
		assert.Equal(t, "AAPL", ev.(map[string]any)["symbol"])
	}
}

func TestServer_BacktestJobEndToEnd(t *testing.T) {
	srv := newTestServer(t, "")

	w := serve(srv, "POST", "/api/v1/backtest",
		`{"strategy": {"name": "sma_crossover", "params": {"short_period": 3, "long_period": 10}}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := data(t, w)["job_id"].(string)

	var status map[string]any
	require.Eventually(t, func() bool {
		w := serve(srv, "GET", "/api/v1/jobs/"+id, "")
		if w.Code != http.StatusOK {
			return false
		}
		status = data(t, w)
		return status["status"] == "complete" || status["status"] == "failed"
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "complete", status["status"], "%v", status["error"])
	result := status["result"].(map[string]any)
	assert.Equal(t, "sma_crossover", result["strategy"])
	assert.Greater(t, result["final_equity"], float64(0))

	w = serve(srv, "GET", "/api/v1/runs?strategy=sma_crossover", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, data(t, w)["runs"], 1)

	w = serve(srv, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "quantsim_runs_total"))
	assert.True(t, strings.Contains(body, `route="POST /api/v1/backtest"`))
}

func TestServer_UnknownJob(t *testing.T) {
	srv := newTestServer(t, "")

	w := serve(srv, "GET", "/api/v1/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ShutdownRejectsNewJobs(t *testing.T) {
	srv := newTestServer(t, "")
	require.NoError(t, srv.Shutdown(context.Background()))

	w := serve(srv, "POST", "/api/v1/backtest", `{"strategy": {"name": "rsi"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

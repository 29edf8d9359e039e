package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quantsim/internal/collector/csvfile"
	"github.com/newthinker/quantsim/internal/config"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/storage/runindex"
	"github.com/newthinker/quantsim/internal/strategy/strategytest"
)

// vShape falls for n bars and then recovers, producing crossovers both ways.
func vShape(n int) []float64 {
	closes := strategytest.Ramp(n, 100, -1)
	return append(closes, strategytest.Ramp(n, closes[n-1], 1.5)...)
}

func writeBars(t *testing.T, dir, symbol string, closes []float64) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, symbol+".csv"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, csvfile.Write(f, strategytest.Bars(symbol, closes...)))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	writeBars(t, dataDir, "AAPL", vShape(30))
	writeBars(t, dataDir, "MSFT", vShape(30))

	cfg := config.Defaults()
	cfg.Data.Dir = dataDir
	cfg.Data.Symbols = []string{"AAPL", "MSFT"}
	cfg.Strategy = config.StrategyConfig{
		Name:   "sma_crossover",
		Params: map[string]any{"short_period": 3, "long_period": 10},
	}
	cfg.Storage.Archive = config.ArchiveConfig{Type: "localfs", Path: filepath.Join(dir, "archive")}
	cfg.Storage.IndexPath = filepath.Join(dir, "runs.db")
	cfg.Metrics = config.MetricsConfig{Enabled: true, TextfilePath: filepath.Join(dir, "quantsim.prom")}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_New(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	assert.Equal(t, "csv", a.Provider().Name())
	assert.Equal(t, []string{"csv", "parquet", "yahoo"}, a.Providers())
	assert.NotNil(t, a.Metrics())
}

func TestApp_New_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Provider = "bloomberg"

	_, err := New(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestApp_LoadBars(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	bars, err := a.LoadBars(context.Background())
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Len(t, bars["AAPL"], 60)
	assert.Equal(t, "MSFT", bars["MSFT"][0].Symbol)
}

func TestApp_LoadBars_Window(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Start = strategytest.Day0.AddDate(0, 0, 10).Format("2006-01-02")
	cfg.Data.End = strategytest.Day0.AddDate(0, 0, 19).Format("2006-01-02")
	a := newTestApp(t, cfg)

	bars, err := a.LoadBars(context.Background())
	require.NoError(t, err)
	assert.Len(t, bars["AAPL"], 10)
}

func TestApp_LoadBarsFor(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	bars, err := a.LoadBarsFor(ctx, []string{"MSFT"},
		strategytest.Day0.AddDate(0, 0, 5), strategytest.Day0.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Len(t, bars["MSFT"], 10)

	_, err = a.LoadBarsFor(ctx, nil, strategytest.Day0.AddDate(0, 0, 5), strategytest.Day0)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestApp_LoadBars_MissingSymbol(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Symbols = []string{"AAPL", "TSLA"}
	a := newTestApp(t, cfg)

	_, err := a.LoadBars(context.Background())
	assert.True(t, errors.Is(err, core.ErrNoData))
}

func TestApp_Backtest(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	bars, err := a.LoadBars(ctx)
	require.NoError(t, err)

	res, err := a.Backtest(ctx, cfg.Strategy, bars)
	require.NoError(t, err)
	assert.Equal(t, "sma_crossover", res.Strategy)
	assert.Equal(t, []string{"AAPL", "MSFT"}, res.Symbols)
	assert.NotEmpty(t, res.EquityCurve)

	runs, err := a.Runs(ctx, runindex.Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "sma_crossover", runs[0].Strategy)

	paths, err := a.ArchivedRuns(ctx, "sma_crossover")
	require.NoError(t, err)
	require.Len(t, paths, 1)

	rec, loaded, err := a.LoadRun(ctx, paths[0])
	require.NoError(t, err)
	assert.Equal(t, runs[0].ID, rec.ID)
	assert.InDelta(t, res.FinalEquity, loaded.FinalEquity, 1e-9)

	trades, err := a.Trades(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, trades, len(res.Trades))
}

func TestApp_Backtest_UnknownStrategy(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	bars, err := a.LoadBars(context.Background())
	require.NoError(t, err)

	_, err = a.Backtest(context.Background(), config.StrategyConfig{Name: "astrology"}, bars)
	assert.True(t, errors.Is(err, core.ErrUnknownStrategy))
}

func TestApp_Compare(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	bars, err := a.LoadBars(ctx)
	require.NoError(t, err)

	entries := []config.StrategyConfig{
		{Name: "sma_crossover", Label: "fast", Params: map[string]any{"short_period": 2, "long_period": 5}},
		{Name: "sma_crossover", Label: "slow", Params: map[string]any{"short_period": 3, "long_period": 10}},
		{Name: "rsi"},
	}
	results, err := a.Compare(ctx, entries, bars)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, entries[i].DisplayName(), r.Name)
		require.NoError(t, r.Err)
		assert.Equal(t, r.Name, r.Result.Strategy)
	}

	runs, err := a.Runs(ctx, runindex.Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	fast, err := a.Runs(ctx, runindex.Filter{Strategy: "fast"})
	require.NoError(t, err)
	assert.Len(t, fast, 1)
}

func TestApp_Compare_Errors(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	bars := map[string][]core.Bar{"AAPL": strategytest.Bars("AAPL", vShape(30)...)}

	_, err := a.Compare(context.Background(), nil, bars)
	assert.True(t, errors.Is(err, core.ErrConfigMissing))

	_, err = a.Compare(context.Background(), []config.StrategyConfig{{Name: "rsi"}, {Name: "rsi"}}, bars)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestApp_WithoutStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Archive: config.ArchiveConfig{Type: "none"}}
	a := newTestApp(t, cfg)
	ctx := context.Background()

	bars, err := a.LoadBars(ctx)
	require.NoError(t, err)
	_, err = a.Backtest(ctx, cfg.Strategy, bars)
	require.NoError(t, err)

	_, err = a.Runs(ctx, runindex.Filter{})
	assert.True(t, errors.Is(err, core.ErrConfigMissing))
	_, err = a.ArchivedRuns(ctx, "")
	assert.True(t, errors.Is(err, core.ErrConfigMissing))
}

func TestApp_Close_WritesMetrics(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	bars, err := a.LoadBars(context.Background())
	require.NoError(t, err)
	_, err = a.Backtest(context.Background(), cfg.Strategy, bars)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "quantsim_runs_total")
	assert.Contains(t, string(data), "quantsim_bars_loaded_total")
}

func TestApp_NotifiesWebhook(t *testing.T) {
	var mu sync.Mutex
	var types []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		types = append(types, payload["type"].(string))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Notify.Webhook.URL = server.URL
	a := newTestApp(t, cfg)
	ctx := context.Background()

	bars, err := a.LoadBars(ctx)
	require.NoError(t, err)

	_, err = a.Backtest(ctx, cfg.Strategy, bars)
	require.NoError(t, err)

	_, err = a.Compare(ctx, []config.StrategyConfig{{Name: "rsi"}, {Name: "macd"}}, bars)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"run", "batch"}, types)
}

func TestApp_NotificationFailureDoesNotFailRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Notify.Webhook.URL = server.URL
	a := newTestApp(t, cfg)

	bars, err := a.LoadBars(context.Background())
	require.NoError(t, err)
	_, err = a.Backtest(context.Background(), cfg.Strategy, bars)
	assert.NoError(t, err)
}

func TestNewNotifiers(t *testing.T) {
	empty, err := NewNotifiers(config.NotifyConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	r, err := NewNotifiers(config.NotifyConfig{
		Webhook:  config.WebhookConfig{URL: "http://localhost/hook"},
		Telegram: config.TelegramConfig{BotToken: "token", ChatID: "42"},
		Email: config.EmailConfig{
			Host: "smtp.example.com",
			From: "quantsim@example.com",
			To:   []string{"desk@example.com"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "telegram", "webhook"}, r.Names())

	_, err = NewNotifiers(config.NotifyConfig{Email: config.EmailConfig{Host: "smtp.example.com"}})
	assert.True(t, errors.Is(err, core.ErrConfigMissing))
}

func TestApp_Signals(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	bars, err := a.LoadBars(ctx)
	require.NoError(t, err)

	signals, err := a.Signals(ctx, cfg.Strategy, bars)
	require.NoError(t, err)
	require.Contains(t, signals, "AAPL")
	require.Contains(t, signals, "MSFT")
	require.NotEmpty(t, signals["AAPL"])

	for _, ev := range signals["AAPL"] {
		assert.Equal(t, "AAPL", ev.Symbol)
		assert.Equal(t, "sma_crossover", ev.Strategy)
		assert.True(t, ev.IsActionable())
	}

	// Generating signals neither runs nor stores anything.
	runs, err := a.Runs(ctx, runindex.Filter{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = a.Signals(ctx, config.StrategyConfig{Name: "astrology"}, bars)
	assert.True(t, errors.Is(err, core.ErrUnknownStrategy))
}

func TestSaveBars(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	bars, err := a.LoadBars(context.Background())
	require.NoError(t, err)

	for _, format := range []string{"csv", "parquet"} {
		t.Run(format, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			paths, err := SaveBars(dir, format, bars)
			require.NoError(t, err)
			assert.Equal(t, []string{
				filepath.Join(dir, "AAPL."+format),
				filepath.Join(dir, "MSFT."+format),
			}, paths)

			cfg := testConfig(t)
			cfg.Data.Provider = format
			cfg.Data.Dir = dir
			reloaded, err := newTestApp(t, cfg).LoadBars(context.Background())
			require.NoError(t, err)
			require.Len(t, reloaded["AAPL"], len(bars["AAPL"]))
			assert.True(t, bars["AAPL"][0].Time.Equal(reloaded["AAPL"][0].Time))
			assert.Equal(t, bars["MSFT"][59].Close, reloaded["MSFT"][59].Close)
		})
	}

	_, err = SaveBars(t.TempDir(), "xlsx", bars)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/broker"
	"github.com/newthinker/quantsim/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoad_FromFile(t *testing.T) {
	cfgPath := writeConfig(t, `
data:
  provider: parquet
  dir: "/tmp/bars"
  symbols: [AAPL, MSFT]
  start: "2023-01-01"
  end: "2023-12-31"

strategy:
  name: rsi
  params:
    rsi_period: 10
    oversold: 25

compare:
  - name: sma_crossover
    label: fast
    params:
      short_period: 3
      long_period: 10
  - name: sma_crossover
    label: slow

backtest:
  initial_capital: 50000
  fill_price: close
  position_sizing:
    mode: kelly
    kelly_win_rate: 0.6
  risk:
    halt_scope: symbol
    allow_short: true

storage:
  archive:
    type: localfs
    path: "/tmp/quantsim/runs"

server:
  port: 9090
  api_key: secret
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Data.Provider != "parquet" {
		t.Errorf("expected parquet, got %s", cfg.Data.Provider)
	}
	if len(cfg.Data.Symbols) != 2 {
		t.Errorf("expected 2 symbols, got %v", cfg.Data.Symbols)
	}
	if cfg.Strategy.Name != "rsi" {
		t.Errorf("expected rsi, got %s", cfg.Strategy.Name)
	}
	if len(cfg.Compare) != 2 || cfg.Compare[0].DisplayName() != "fast" {
		t.Errorf("unexpected compare entries: %+v", cfg.Compare)
	}
	if cfg.Storage.Archive.Type != "localfs" {
		t.Errorf("expected localfs, got %s", cfg.Storage.Archive.Type)
	}
	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" || cfg.Server.Host != "localhost" {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}

	settings := cfg.Backtest.Settings()
	if settings.InitialCapital != 50000 {
		t.Errorf("expected capital 50000, got %v", settings.InitialCapital)
	}
	if settings.FillPrice != backtest.FillAtClose {
		t.Errorf("expected close fills, got %s", settings.FillPrice)
	}
	if settings.Risk.Sizing != broker.SizingKelly || settings.Risk.KellyWinRate != 0.6 {
		t.Errorf("unexpected sizing: %+v", settings.Risk)
	}
	if settings.Risk.HaltScope != broker.ScopeSymbol || !settings.Risk.AllowShort {
		t.Errorf("unexpected risk settings: %+v", settings.Risk)
	}
	// Keys absent from the file keep their defaults
	if settings.Risk.KellyPayoff != broker.DefaultRiskConfig().KellyPayoff {
		t.Errorf("expected default kelly payoff, got %v", settings.Risk.KellyPayoff)
	}
	if settings.Execution != broker.DefaultExecutionConfig() {
		t.Errorf("expected default execution, got %+v", settings.Execution)
	}
}

func TestLoad_SamplingDrivesAnnualization(t *testing.T) {
	tests := []struct {
		yaml string
		want float64
	}{
		{"backtest:\n  stats:\n    sampling: weekly\n", 52},
		{"backtest:\n  stats:\n    sampling: monthly\n", 12},
		{"backtest:\n  stats:\n    sampling: daily\n", 252},
		{"backtest:\n  stats:\n    sampling: weekly\n    periods_per_year: 50\n", 50},
	}

	for _, tt := range tests {
		cfg, err := Load(writeConfig(t, tt.yaml))
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		metrics := cfg.Backtest.Settings().Metrics
		if got := metrics.AnnualPeriods(); got != tt.want {
			t.Errorf("sampling %s: expected %v periods per year, got %v", metrics.Sampling, tt.want, got)
		}
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("QUANTSIM_TEST_BUCKET", "backtests")
	cfgPath := writeConfig(t, `
storage:
  archive:
    type: s3
    s3:
      bucket: "${QUANTSIM_TEST_BUCKET}"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.Archive.S3.Bucket != "backtests" {
		t.Errorf("expected bucket from env, got %q", cfg.Storage.Archive.S3.Bucket)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	cfgPath := writeConfig(t, `
backtest:
  initial_capitol: 1000
`)

	_, err := Load(cfgPath)
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("expected CONFIG_MISSING, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Data.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", cfg.Data.Timeout)
	}
	want := backtest.DefaultSettings()
	if got := cfg.Backtest.Settings(); got != want {
		t.Errorf("default backtest settings = %+v, want %+v", got, want)
	}
}

func TestDataConfig_Window(t *testing.T) {
	d := DataConfig{Start: "2024-01-02", End: "2024-03-01"}
	start, end, err := d.Window()
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if !start.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", start)
	}
	if !end.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected end %v", end)
	}

	start, end, err = DataConfig{}.Window()
	if err != nil || !start.IsZero() || !end.IsZero() {
		t.Errorf("open window = %v, %v, %v", start, end, err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr *core.Error
	}{
		{"valid config", func(*Config) {}, nil},
		{"unknown provider", func(c *Config) { c.Data.Provider = "bloomberg" }, core.ErrConfigInvalid},
		{"csv without dir", func(c *Config) { c.Data.Dir = "" }, core.ErrConfigMissing},
		{"yahoo without dir", func(c *Config) { c.Data.Provider = "yahoo"; c.Data.Dir = "" }, nil},
		{"reversed window", func(c *Config) { c.Data.Start = "2024-02-01"; c.Data.End = "2024-01-01" }, core.ErrConfigInvalid},
		{"bad date", func(c *Config) { c.Data.Start = "someday" }, core.ErrConfigInvalid},
		{"zero capital", func(c *Config) { c.Backtest.InitialCapital = 0 }, core.ErrConfigInvalid},
		{"unknown sizing", func(c *Config) { c.Backtest.PositionSizing.Mode = "martingale" }, core.ErrConfigInvalid},
		{"unknown strategy", func(c *Config) { c.Strategy.Name = "astrology" }, core.ErrUnknownStrategy},
		{"unknown param", func(c *Config) { c.Strategy.Params = map[string]any{"window": 3} }, core.ErrConfigInvalid},
		{"duplicate compare label", func(c *Config) {
			c.Compare = []StrategyConfig{{Name: "rsi"}, {Name: "rsi"}}
		}, core.ErrConfigInvalid},
		{"s3 without bucket", func(c *Config) { c.Storage.Archive.Type = "s3" }, core.ErrConfigMissing},
		{"unknown archive", func(c *Config) { c.Storage.Archive.Type = "ftp" }, core.ErrConfigInvalid},
		{"telegram without chat", func(c *Config) { c.Notify.Telegram.BotToken = "token" }, core.ErrConfigMissing},
		{"email without recipients", func(c *Config) {
			c.Notify.Email = EmailConfig{Host: "smtp.example.com", From: "quantsim@example.com"}
		}, core.ErrConfigMissing},
		{"email bad port", func(c *Config) {
			c.Notify.Email = EmailConfig{Host: "smtp.example.com", Port: 70000, From: "a@example.com", To: []string{"b@example.com"}}
		}, core.ErrConfigInvalid},
		{"server port", func(c *Config) { c.Server.Port = -1 }, core.ErrConfigInvalid},
		{"no job capacity", func(c *Config) { c.Server.MaxJobs = 0 }, core.ErrConfigInvalid},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, core.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %s", err, tt.wantErr.Code)
			}
		})
	}
}

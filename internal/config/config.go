package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/viper"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/broker"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/strategy/catalog"
)

// EnvPrefix prefixes environment overrides, e.g. QUANTSIM_BACKTEST_INITIAL_CAPITAL
const EnvPrefix = "QUANTSIM"

type Config struct {
	Logging  LoggingConfig    `mapstructure:"logging"`
	Data     DataConfig       `mapstructure:"data"`
	Strategy StrategyConfig   `mapstructure:"strategy"`
	Compare  []StrategyConfig `mapstructure:"compare"`
	Backtest BacktestConfig   `mapstructure:"backtest"`
	Storage  StorageConfig    `mapstructure:"storage"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Notify   NotifyConfig     `mapstructure:"notify"`
	Server   ServerConfig     `mapstructure:"server"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DataConfig selects where bars come from
type DataConfig struct {
	Provider    string        `mapstructure:"provider"` // "csv", "parquet" or "yahoo"
	Dir         string        `mapstructure:"dir"`      // For csv and parquet
	BaseURL     string        `mapstructure:"base_url"` // For yahoo
	Timeout     time.Duration `mapstructure:"timeout"`
	Symbols     []string      `mapstructure:"symbols"`
	Start       string        `mapstructure:"start"`
	End         string        `mapstructure:"end"`
	Parallelism int           `mapstructure:"parallelism"`
}

// StrategyConfig names a strategy variant and its parameters. Label
// distinguishes several configurations of one variant in a comparison.
type StrategyConfig struct {
	Name   string         `mapstructure:"name"`
	Label  string         `mapstructure:"label"`
	Params map[string]any `mapstructure:"params"`
}

// DisplayName returns the label, falling back to the strategy name
func (s StrategyConfig) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}

// BacktestConfig enumerates every simulation option
type BacktestConfig struct {
	InitialCapital float64      `mapstructure:"initial_capital"`
	FillPrice      string       `mapstructure:"fill_price"` // "open" or "close"
	Commission     CostConfig   `mapstructure:"commission"`
	Slippage       CostConfig   `mapstructure:"slippage"`
	PositionSizing SizingConfig `mapstructure:"position_sizing"`
	Risk           RiskConfig   `mapstructure:"risk"`
	Stats          StatsConfig  `mapstructure:"stats"`
	Parallelism    int          `mapstructure:"parallelism"` // Concurrent runs in a comparison
}

type CostConfig struct {
	Mode  string  `mapstructure:"mode"`
	Value float64 `mapstructure:"value"`
}

type SizingConfig struct {
	Mode         string  `mapstructure:"mode"` // "fixed_fraction", "fixed_quantity" or "kelly"
	Value        float64 `mapstructure:"value"`
	KellyWinRate float64 `mapstructure:"kelly_win_rate"`
	KellyPayoff  float64 `mapstructure:"kelly_payoff"`
	KellyCap     float64 `mapstructure:"kelly_cap"`
}

type RiskConfig struct {
	StopLossPct      float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct    float64 `mapstructure:"take_profit_pct"`
	MaxDrawdownPct   float64 `mapstructure:"max_drawdown_pct"`
	DailyLossLimit   float64 `mapstructure:"daily_loss_limit"`
	HaltScope        string  `mapstructure:"halt_scope"` // "portfolio" or "symbol"
	ResetHaltDaily   bool    `mapstructure:"reset_halt_daily"`
	LiquidateOnHalt  bool    `mapstructure:"liquidate_on_halt"`
	MaxPositionPct   float64 `mapstructure:"max_position_pct"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	AllowShort       bool    `mapstructure:"allow_short"`
}

type StatsConfig struct {
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	VaRConfidence  float64 `mapstructure:"var_confidence"`
	Sampling       string  `mapstructure:"sampling"` // "bar", "daily", "weekly" or "monthly"
	PeriodsPerYear int     `mapstructure:"periods_per_year"`
}

type StorageConfig struct {
	Archive   ArchiveConfig `mapstructure:"archive"`
	IndexPath string        `mapstructure:"index_path"` // SQLite run index; empty disables
}

type ArchiveConfig struct {
	Type string   `mapstructure:"type"` // "none", "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TextfilePath string `mapstructure:"textfile_path"` // Prometheus textfile written after each command
}

// NotifyConfig selects where run reports are sent. Empty sections are disabled.
type NotifyConfig struct {
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// EmailConfig is an SMTP relay. Port 0 means 587.
type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// ServerConfig holds the HTTP API settings used by `quantsim serve`.
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"` // empty disables X-API-Key checks
	MaxJobs int    `mapstructure:"max_jobs"`
}

// Load reads configuration from file on top of Defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.UnmarshalExact(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	execution := broker.DefaultExecutionConfig()
	risk := broker.DefaultRiskConfig()
	stats := backtest.DefaultMetricsConfig()

	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Data: DataConfig{
			Provider:    "csv",
			Dir:         "data",
			Timeout:     10 * time.Second,
			Parallelism: 4,
		},
		Strategy: StrategyConfig{
			Name: "sma_crossover",
		},
		Backtest: BacktestConfig{
			InitialCapital: 100000,
			FillPrice:      string(backtest.FillAtOpen),
			Commission:     CostConfig{Mode: string(execution.CommissionMode), Value: execution.CommissionValue},
			Slippage:       CostConfig{Mode: string(execution.SlippageMode), Value: execution.SlippageValue},
			PositionSizing: SizingConfig{
				Mode:         string(risk.Sizing),
				Value:        risk.SizingValue,
				KellyWinRate: risk.KellyWinRate,
				KellyPayoff:  risk.KellyPayoff,
				KellyCap:     risk.KellyCap,
			},
			Risk: RiskConfig{
				StopLossPct:    risk.StopLossPct,
				TakeProfitPct:  risk.TakeProfitPct,
				MaxDrawdownPct: risk.MaxDrawdownPct,
				DailyLossLimit: risk.DailyLossLimit,
				HaltScope:      string(risk.HaltScope),
				MaxPositionPct: risk.MaxPositionPct,
			},
			Stats: StatsConfig{
				RiskFreeRate:   stats.RiskFreeRate,
				VaRConfidence:  stats.VaRConfidence,
				Sampling:       string(stats.Sampling),
				PeriodsPerYear: stats.PeriodsPerYear,
			},
			Parallelism: 4,
		},
		Storage: StorageConfig{
			Archive: ArchiveConfig{
				Type: "none",
				Path: "runs",
			},
		},
		Server: ServerConfig{
			Host:    "localhost",
			Port:    8080,
			MaxJobs: 100,
		},
	}
}

// Settings converts the backtest section into orchestrator settings
func (b BacktestConfig) Settings() backtest.Settings {
	return backtest.Settings{
		InitialCapital: b.InitialCapital,
		FillPrice:      backtest.FillPrice(b.FillPrice),
		Execution: broker.ExecutionConfig{
			CommissionMode:  broker.CommissionMode(b.Commission.Mode),
			CommissionValue: b.Commission.Value,
			SlippageMode:    broker.SlippageMode(b.Slippage.Mode),
			SlippageValue:   b.Slippage.Value,
		},
		Risk: broker.RiskConfig{
			Sizing:           broker.SizingMode(b.PositionSizing.Mode),
			SizingValue:      b.PositionSizing.Value,
			KellyWinRate:     b.PositionSizing.KellyWinRate,
			KellyPayoff:      b.PositionSizing.KellyPayoff,
			KellyCap:         b.PositionSizing.KellyCap,
			StopLossPct:      b.Risk.StopLossPct,
			TakeProfitPct:    b.Risk.TakeProfitPct,
			MaxDrawdownPct:   b.Risk.MaxDrawdownPct,
			DailyLossLimit:   b.Risk.DailyLossLimit,
			HaltScope:        broker.BreachScope(b.Risk.HaltScope),
			ResetHaltDaily:   b.Risk.ResetHaltDaily,
			LiquidateOnHalt:  b.Risk.LiquidateOnHalt,
			MaxPositionPct:   b.Risk.MaxPositionPct,
			MaxOpenPositions: b.Risk.MaxOpenPositions,
			AllowShort:       b.Risk.AllowShort,
		},
		Metrics: backtest.MetricsConfig{
			RiskFreeRate:   b.Stats.RiskFreeRate,
			VaRConfidence:  b.Stats.VaRConfidence,
			Sampling:       backtest.Sampling(b.Stats.Sampling),
			PeriodsPerYear: b.Stats.PeriodsPerYear,
		},
	}
}

// Validate range-checks every simulation option
func (b BacktestConfig) Validate() error {
	if b.Parallelism < 0 {
		return core.Errorf(core.ErrConfigInvalid, "backtest parallelism cannot be negative, got %d", b.Parallelism)
	}
	return b.Settings().Validate()
}

// Window parses the start and end dates. Empty bounds are returned as zero times.
func (d DataConfig) Window() (start, end time.Time, err error) {
	if d.Start != "" {
		if start, err = dateparse.ParseIn(d.Start, time.UTC); err != nil {
			return start, end, core.Errorf(core.ErrConfigInvalid, "data.start %q: %v", d.Start, err)
		}
	}
	if d.End != "" {
		if end, err = dateparse.ParseIn(d.End, time.UTC); err != nil {
			return start, end, core.Errorf(core.ErrConfigInvalid, "data.end %q: %v", d.End, err)
		}
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return start, end, core.Errorf(core.ErrConfigInvalid, "data.end %s must be after data.start %s", d.End, d.Start)
	}
	return start, end, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Data.Provider {
	case "csv", "parquet":
		if c.Data.Dir == "" {
			return core.Errorf(core.ErrConfigMissing, "data.dir required for the %s provider", c.Data.Provider)
		}
	case "yahoo":
	default:
		return core.Errorf(core.ErrConfigInvalid, "data.provider must be csv, parquet or yahoo, got %q", c.Data.Provider)
	}
	if c.Data.Parallelism < 0 {
		return core.Errorf(core.ErrConfigInvalid, "data.parallelism cannot be negative, got %d", c.Data.Parallelism)
	}
	if _, _, err := c.Data.Window(); err != nil {
		return err
	}

	if err := c.Backtest.Validate(); err != nil {
		return err
	}

	// Strategy validation - resolving each one rejects unknown names and params
	if _, err := catalog.Lookup(c.Strategy.Name, c.Strategy.Params); err != nil {
		return err
	}
	labels := make(map[string]bool, len(c.Compare))
	for _, s := range c.Compare {
		if _, err := catalog.Lookup(s.Name, s.Params); err != nil {
			return err
		}
		if labels[s.DisplayName()] {
			return core.Errorf(core.ErrConfigInvalid, "compare entry %q appears twice; give each a label", s.DisplayName())
		}
		labels[s.DisplayName()] = true
	}

	switch c.Storage.Archive.Type {
	case "none":
	case "localfs":
		if c.Storage.Archive.Path == "" {
			return core.Errorf(core.ErrConfigMissing, "storage.archive.path required for localfs")
		}
	case "s3":
		if c.Storage.Archive.S3.Bucket == "" {
			return core.Errorf(core.ErrConfigMissing, "storage.archive.s3.bucket required for s3")
		}
	default:
		return core.Errorf(core.ErrConfigInvalid, "storage.archive.type must be none, localfs or s3, got %q", c.Storage.Archive.Type)
	}

	if (c.Notify.Telegram.BotToken == "") != (c.Notify.Telegram.ChatID == "") {
		return core.Errorf(core.ErrConfigMissing, "notify.telegram needs both bot_token and chat_id")
	}
	if email := c.Notify.Email; email.Host != "" || email.From != "" || len(email.To) > 0 {
		if email.Host == "" || email.From == "" || len(email.To) == 0 {
			return core.Errorf(core.ErrConfigMissing, "notify.email needs host, from and to")
		}
		if email.Port < 0 || email.Port > 65535 {
			return core.Errorf(core.ErrConfigInvalid, "notify.email.port out of range: %d", email.Port)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return core.Errorf(core.ErrConfigInvalid, "server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxJobs < 1 {
		return core.Errorf(core.ErrConfigInvalid, "server.max_jobs must be at least 1, got %d", c.Server.MaxJobs)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return core.Errorf(core.ErrConfigInvalid, "logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

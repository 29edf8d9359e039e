package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/newthinker/quantsim/internal/broker"
	"github.com/newthinker/quantsim/internal/core"
)

// RunState is the lifecycle state of a single run.
type RunState string

const (
	StateInitialized RunState = "INITIALIZED"
	StateRunning     RunState = "RUNNING"
	StateCompleted   RunState = "COMPLETED"
	StateFailed      RunState = "FAILED"
)

// FillPrice selects the bar price orders reference before slippage.
type FillPrice string

const (
	FillAtOpen  FillPrice = "open"
	FillAtClose FillPrice = "close"
)

// Sampling is the frequency periodic returns are derived at.
type Sampling string

const (
	SampleBar     Sampling = "bar"
	SampleDaily   Sampling = "daily"
	SampleWeekly  Sampling = "weekly"
	SampleMonthly Sampling = "monthly"
)

// MetricsConfig parameterizes Aggregate.
type MetricsConfig struct {
	// RiskFreeRate is annual and converted to a per-period rate.
	RiskFreeRate float64
	// VaRConfidence is the confidence level for VaR and expected shortfall, e.g. 0.95.
	VaRConfidence float64
	// Sampling selects the return frequency.
	Sampling Sampling
	// PeriodsPerYear annualizes Sharpe and Sortino. Zero picks a default for Sampling.
	PeriodsPerYear int
}

// DefaultMetricsConfig returns per-bar sampling at 95% confidence with no
// risk-free rate. PeriodsPerYear is left at zero so it follows Sampling.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		VaRConfidence: 0.95,
		Sampling:      SampleBar,
	}
}

// Validate checks the metrics parameters.
func (c MetricsConfig) Validate() error {
	if c.VaRConfidence <= 0 || c.VaRConfidence >= 1 {
		return core.Errorf(core.ErrConfigInvalid, "var_confidence must be in (0, 1), got %v", c.VaRConfidence)
	}
	if c.RiskFreeRate <= -1 || math.IsNaN(c.RiskFreeRate) {
		return core.Errorf(core.ErrConfigInvalid, "risk_free_rate must be above -1, got %v", c.RiskFreeRate)
	}
	if c.PeriodsPerYear < 0 {
		return core.Errorf(core.ErrConfigInvalid, "periods_per_year cannot be negative, got %d", c.PeriodsPerYear)
	}
	switch c.Sampling {
	case SampleBar, SampleDaily, SampleWeekly, SampleMonthly:
	default:
		return core.Errorf(core.ErrConfigInvalid, "unknown sampling %q", c.Sampling)
	}
	return nil
}

// AnnualPeriods returns the number of return periods per year used to
// annualize ratios.
func (c MetricsConfig) AnnualPeriods() float64 {
	if c.PeriodsPerYear > 0 {
		return float64(c.PeriodsPerYear)
	}
	switch c.Sampling {
	case SampleWeekly:
		return 52
	case SampleMonthly:
		return 12
	default:
		return 252
	}
}

// Settings is the full configuration of one run.
type Settings struct {
	InitialCapital float64
	FillPrice      FillPrice
	Execution      broker.ExecutionConfig
	Risk           broker.RiskConfig
	Metrics        MetricsConfig
}

// DefaultSettings returns settings with default cost, risk and metrics models.
func DefaultSettings() Settings {
	return Settings{
		InitialCapital: 100000,
		FillPrice:      FillAtOpen,
		Execution:      broker.DefaultExecutionConfig(),
		Risk:           broker.DefaultRiskConfig(),
		Metrics:        DefaultMetricsConfig(),
	}
}

// Validate checks every part of the settings.
func (s Settings) Validate() error {
	if s.InitialCapital <= 0 || math.IsNaN(s.InitialCapital) || math.IsInf(s.InitialCapital, 0) {
		return core.Errorf(core.ErrConfigInvalid, "initial_capital must be positive, got %v", s.InitialCapital)
	}
	switch s.FillPrice {
	case FillAtOpen, FillAtClose:
	default:
		return core.Errorf(core.ErrConfigInvalid, "fill_price must be open or close, got %q", s.FillPrice)
	}
	if err := s.Execution.Validate(); err != nil {
		return err
	}
	if err := s.Risk.Validate(); err != nil {
		return err
	}
	return s.Metrics.Validate()
}

// Input holds the fully materialized data of one run.
type Input struct {
	// Strategy names the signal source; informational only.
	Strategy string
	// Bars per symbol, strictly increasing in time.
	Bars map[string][]core.Bar
	// Signals per symbol, non-decreasing in time.
	Signals map[string][]core.SignalEvent
}

// Stats holds performance statistics derived from the equity curve and trade log.
type Stats struct {
	TotalReturn       float64 `json:"total_return"`
	AnnualizedReturn  float64 `json:"annualized_return"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	WinRate           float64 `json:"win_rate"`
	ProfitFactor      float64 `json:"profit_factor"`
	VaR               float64 `json:"var"`
	VaRConfidence     float64 `json:"var_confidence"`
	ExpectedShortfall float64 `json:"expected_shortfall"`
	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	AvgTradePnL       float64 `json:"avg_trade_pnl"`
}

// DroppedOrder records a signal or forced exit that produced no fill.
type DroppedOrder struct {
	Time      time.Time      `json:"time"`
	Symbol    string         `json:"symbol"`
	Direction core.Direction `json:"direction,omitempty"`
	Reason    string         `json:"reason"`
	Detail    string         `json:"detail,omitempty"`
}

// Drop reasons.
const (
	DropLiquidity  = "liquidity"
	DropNoBar      = "no_bar"
	DropRiskVeto   = "risk_veto"
	DropForcedExit = "forced_exit"
)

// Result is the outcome of a COMPLETED run.
// Stats is nil when the equity curve is too short for metrics.
type Result struct {
	Strategy       string    `json:"strategy,omitempty"`
	Symbols        []string  `json:"symbols"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	State          RunState  `json:"state"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	FinalCash      float64   `json:"final_cash"`

	*Stats
	MetricsError string `json:"metrics_error,omitempty"`

	// Exposure is the fraction of bars that ended with an open position.
	Exposure      float64 `json:"exposure"`
	BarsProcessed int     `json:"bars_processed"`

	Trades      []broker.Trade       `json:"trades"`
	EquityCurve []broker.EquityPoint `json:"equity_curve"`
	Positions   []broker.Position    `json:"open_positions"`
	Breaches    []broker.Breach      `json:"breaches"`
	Risk        broker.RiskState     `json:"risk_state"`
	Dropped     []DroppedOrder       `json:"dropped_orders"`
}

// HasStats reports whether metrics were computed.
func (r *Result) HasStats() bool {
	return r.Stats != nil
}

// FailedRun is returned as the error of a run that aborted after it started.
// The partial equity curve and trade log cover every bar committed before the failure.
type FailedRun struct {
	Strategy    string               `json:"strategy,omitempty"`
	State       RunState             `json:"state"`
	At          time.Time            `json:"at"`
	Err         error                `json:"-"`
	EquityCurve []broker.EquityPoint `json:"equity_curve"`
	Trades      []broker.Trade       `json:"trades"`
	Breaches    []broker.Breach      `json:"breaches"`
	Risk        broker.RiskState     `json:"risk_state"`
}

// Error implements the error interface.
func (f *FailedRun) Error() string {
	return fmt.Sprintf("run failed at %s after %d checkpoints: %v",
		f.At.Format(time.RFC3339), len(f.EquityCurve), f.Err)
}

// Unwrap returns the structured cause.
func (f *FailedRun) Unwrap() error {
	return f.Err
}

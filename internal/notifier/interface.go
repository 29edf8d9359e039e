package notifier

import (
	"context"
	"time"

	"github.com/newthinker/quantsim/internal/backtest"
)

// Report summarizes one completed run for notification
type Report struct {
	RunID          string    `json:"run_id,omitempty"`
	ArchivePath    string    `json:"archive_path,omitempty"`
	Strategy       string    `json:"strategy"`
	Symbols        []string  `json:"symbols"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	HasStats       bool      `json:"has_stats"`
	TotalReturn    float64   `json:"total_return"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	Trades         int       `json:"trades"`
	Breaches       int       `json:"breaches"`
}

// NewReport builds a report from a completed result
func NewReport(runID, archivePath string, res *backtest.Result) Report {
	r := Report{
		RunID:          runID,
		ArchivePath:    archivePath,
		Strategy:       res.Strategy,
		Symbols:        res.Symbols,
		StartDate:      res.StartDate,
		EndDate:        res.EndDate,
		InitialCapital: res.InitialCapital,
		FinalEquity:    res.FinalEquity,
		Trades:         len(res.Trades),
		Breaches:       len(res.Breaches),
	}
	if res.HasStats() {
		r.HasStats = true
		r.TotalReturn = res.TotalReturn
		r.SharpeRatio = res.SharpeRatio
		r.MaxDrawdown = res.MaxDrawdown
	}
	return r
}

// Notifier delivers run reports
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Notify sends a single run report
	Notify(ctx context.Context, report Report) error

	// NotifyBatch sends the reports of a comparison as one message
	NotifyBatch(ctx context.Context, reports []Report) error
}

// Package api holds the JSON handlers of the /api/v1 routes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/araddon/dateparse"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/config"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/storage/runindex"
	"github.com/newthinker/quantsim/internal/strategy/catalog"
)

// Runner is the part of the application the handlers drive. *app.App
// implements it.
type Runner interface {
	LoadBarsFor(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.Bar, error)
	Signals(ctx context.Context, sc config.StrategyConfig, bars map[string][]core.Bar) (map[string][]core.SignalEvent, error)
	Backtest(ctx context.Context, sc config.StrategyConfig, bars map[string][]core.Bar) (*backtest.Result, error)
	Compare(ctx context.Context, entries []config.StrategyConfig, bars map[string][]core.Bar) ([]backtest.BatchResult, error)
	Runs(ctx context.Context, f runindex.Filter) ([]runindex.RunSummary, error)
}

// StrategyRequest names one catalog strategy.
type StrategyRequest struct {
	Name   string         `json:"name"`
	Label  string         `json:"label,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// DataRequest overrides the configured symbols and window. Empty fields
// keep the server's data section.
type DataRequest struct {
	Symbols []string `json:"symbols,omitempty"`
	Start   string   `json:"start,omitempty"`
	End     string   `json:"end,omitempty"`
}

type window struct {
	symbols    []string
	start, end time.Time
}

func (d DataRequest) parse() (window, error) {
	w := window{symbols: d.Symbols}
	var err error
	if d.Start != "" {
		if w.start, err = dateparse.ParseIn(d.Start, time.UTC); err != nil {
			return w, core.Errorf(core.ErrConfigInvalid, "start %q: %v", d.Start, err)
		}
	}
	if d.End != "" {
		if w.end, err = dateparse.ParseIn(d.End, time.UTC); err != nil {
			return w, core.Errorf(core.ErrConfigInvalid, "end %q: %v", d.End, err)
		}
	}
	return w, nil
}

func (w window) load(ctx context.Context, r Runner) (map[string][]core.Bar, error) {
	return r.LoadBarsFor(ctx, w.symbols, w.start, w.end)
}

// resolve checks the strategy against the catalog so unknown names and bad params are
// rejected before any work starts.
func (s StrategyRequest) resolve() (config.StrategyConfig, error) {
	if s.Name == "" {
		return config.StrategyConfig{}, core.Errorf(core.ErrConfigMissing, "strategy name required")
	}
	if _, err := catalog.Lookup(s.Name, s.Params); err != nil {
		return config.StrategyConfig{}, err
	}
	return config.StrategyConfig{Name: s.Name, Label: s.Label, Params: s.Params}, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	return nil
}

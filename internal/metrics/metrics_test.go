package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/broker"
)

func findFamily(t *testing.T, reg *Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterWithLabel(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == label && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	// Should have go runtime metrics at minimum
	if len(mfs) == 0 {
		t.Error("expected some metrics to be registered")
	}
}

func TestRegistry_RunFinished(t *testing.T) {
	reg := NewRegistry()

	reg.RunFinished(backtest.StateCompleted, 120*time.Millisecond)
	reg.RunFinished(backtest.StateCompleted, 80*time.Millisecond)
	reg.RunFinished(backtest.StateFailed, 10*time.Millisecond)

	runs := findFamily(t, reg, "quantsim_runs_total")
	if runs == nil {
		t.Fatal("expected quantsim_runs_total metric")
	}
	if got := counterWithLabel(runs, "state", "COMPLETED"); got != 2 {
		t.Errorf("expected 2 completed runs, got %v", got)
	}
	if got := counterWithLabel(runs, "state", "FAILED"); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}

	duration := findFamily(t, reg, "quantsim_run_duration_seconds")
	if duration == nil {
		t.Fatal("expected quantsim_run_duration_seconds metric")
	}
	hist := duration.GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 3 {
		t.Errorf("expected sample count 3, got %d", hist.GetSampleCount())
	}
	if hist.GetSampleSum() < 0.2 || hist.GetSampleSum() > 0.22 {
		t.Errorf("expected sample sum ~0.21, got %v", hist.GetSampleSum())
	}
}

func TestRegistry_RunCounters(t *testing.T) {
	reg := NewRegistry()

	reg.BarsProcessed(10)
	reg.BarsProcessed(5)
	reg.FillRecorded(broker.OriginSignal)
	reg.FillRecorded(broker.OriginRisk)
	reg.FillRecorded(broker.OriginSignal)
	reg.OrderDropped("halted")
	reg.BreachRecorded(broker.ScopePortfolio)
	reg.RecordSignals("rsi", 7)

	bars := findFamily(t, reg, "quantsim_bars_processed_total")
	if bars == nil || bars.GetMetric()[0].GetCounter().GetValue() != 15 {
		t.Errorf("expected 15 bars processed, got %v", bars)
	}

	fills := findFamily(t, reg, "quantsim_fills_total")
	if got := counterWithLabel(fills, "origin", "signal"); got != 2 {
		t.Errorf("expected 2 signal fills, got %v", got)
	}
	if got := counterWithLabel(fills, "origin", "risk"); got != 1 {
		t.Errorf("expected 1 risk fill, got %v", got)
	}

	dropped := findFamily(t, reg, "quantsim_orders_dropped_total")
	if got := counterWithLabel(dropped, "reason", "halted"); got != 1 {
		t.Errorf("expected 1 dropped order, got %v", got)
	}

	breaches := findFamily(t, reg, "quantsim_risk_breaches_total")
	if got := counterWithLabel(breaches, "scope", "portfolio"); got != 1 {
		t.Errorf("expected 1 portfolio breach, got %v", got)
	}

	signals := findFamily(t, reg, "quantsim_signals_generated_total")
	if got := counterWithLabel(signals, "strategy", "rsi"); got != 7 {
		t.Errorf("expected 7 rsi signals, got %v", got)
	}
}

func TestRegistry_RecordFetch(t *testing.T) {
	reg := NewRegistry()

	reg.RecordFetch("csv", 250, 5*time.Millisecond, nil)
	reg.RecordFetch("csv", 0, time.Millisecond, errors.New("boom"))

	fetches := findFamily(t, reg, "quantsim_provider_fetches_total")
	if fetches == nil {
		t.Fatal("expected quantsim_provider_fetches_total metric")
	}
	if got := counterWithLabel(fetches, "status", "ok"); got != 1 {
		t.Errorf("expected 1 ok fetch, got %v", got)
	}
	if got := counterWithLabel(fetches, "status", "error"); got != 1 {
		t.Errorf("expected 1 failed fetch, got %v", got)
	}

	loaded := findFamily(t, reg, "quantsim_bars_loaded_total")
	if got := counterWithLabel(loaded, "provider", "csv"); got != 250 {
		t.Errorf("expected 250 bars loaded, got %v", got)
	}
}

func TestRegistry_WriteTextfile(t *testing.T) {
	reg := NewRegistry()
	reg.RunFinished(backtest.StateCompleted, time.Second)

	path := filepath.Join(t.TempDir(), "quantsim.prom")
	if err := reg.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `quantsim_runs_total{state="COMPLETED"} 1`) {
		t.Errorf("textfile missing run counter:\n%s", data)
	}
}

// Ensure the registry implements prometheus.Gatherer interface
func TestRegistry_ImplementsGatherer(t *testing.T) {
	reg := NewRegistry()
	var _ prometheus.Gatherer = reg
}

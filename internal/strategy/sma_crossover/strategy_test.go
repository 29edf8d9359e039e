package sma_crossover

import (
	"errors"
	"testing"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/strategy"
	"github.com/newthinker/quantsim/internal/strategy/strategytest"
)

func TestSMACrossover_ImplementsStrategy(t *testing.T) {
	var _ strategy.Strategy = (*SMACrossover)(nil)
}

func TestSMACrossover_Name(t *testing.T) {
	s := Default()
	if s.Name() != "sma_crossover" {
		t.Errorf("expected 'sma_crossover', got '%s'", s.Name())
	}
	if s.RequiredData().PriceHistory != 21 {
		t.Errorf("expected 21 bars of history, got %d", s.RequiredData().PriceHistory)
	}
}

func TestSMACrossover_GoldenCross(t *testing.T) {
	s := New(2, 4)

	// prevShort = (85 + 80) / 2 = 82.5, prevLong = (95 + 90 + 85 + 80) / 4 = 87.5
	// currShort = (80 + 120) / 2 = 100, currLong = (90 + 85 + 80 + 120) / 4 = 93.75
	d, err := s.Analyze(strategytest.Context(100, 95, 90, 85, 80, 120))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Direction != core.DirectionBuy {
		t.Errorf("expected BUY for golden cross, got %s", d.Direction)
	}
	if d.Confidence < 0.5 || d.Confidence > 0.9 {
		t.Errorf("confidence %f outside 0.5-0.9", d.Confidence)
	}
}

func TestSMACrossover_DeathCross(t *testing.T) {
	s := New(2, 4)

	// prevShort = 97.5 > prevLong = 92.5, currShort = 80 < currLong = 86.25
	d, err := s.Analyze(strategytest.Context(80, 85, 90, 95, 100, 60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Direction != core.DirectionSell {
		t.Errorf("expected SELL for death cross, got %s", d.Direction)
	}
}

func TestSMACrossover_NoCross(t *testing.T) {
	s := New(2, 4)
	d, _ := s.Analyze(strategytest.Context(strategytest.Ramp(10, 100, 1)...))
	if d.Direction != core.DirectionNone {
		t.Errorf("steady trend should not cross, got %s", d.Direction)
	}
}

func TestSMACrossover_NotEnoughData(t *testing.T) {
	s := Default()
	d, err := s.Analyze(strategytest.Context(strategytest.Ramp(20, 100, 0)...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Direction != core.DirectionNone {
		t.Errorf("expected no decision with insufficient data, got %s", d.Direction)
	}
}

func TestSMACrossover_Init(t *testing.T) {
	s := Default()
	if err := s.Init(strategy.Config{Params: map[string]any{"short_period": 3, "long_period": "10"}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if s.shortPeriod != 3 || s.longPeriod != 10 {
		t.Errorf("periods = %d/%d, want 3/10", s.shortPeriod, s.longPeriod)
	}

	for _, params := range []map[string]any{
		{"fast_period": 3},
		{"short_period": 0},
		{"short_period": 10, "long_period": 5},
		{"long_period": "many"},
	} {
		err := Default().Init(strategy.Config{Params: params})
		if !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("Init(%v) = %v, want CONFIG_INVALID", params, err)
		}
	}
}

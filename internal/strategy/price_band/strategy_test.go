package price_band

import (
	"errors"
	"testing"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/strategy"
	"github.com/newthinker/quantsim/internal/strategy/strategytest"
)

func TestIndicatorVsPrice_ImplementsStrategy(t *testing.T) {
	var _ strategy.Strategy = (*IndicatorVsPrice)(nil)
}

func TestIndicatorVsPrice_Policies(t *testing.T) {
	rising := strategytest.Ramp(10, 100, 1)
	falling := strategytest.Ramp(10, 100, -1)

	tests := []struct {
		name   string
		s      *IndicatorVsPrice
		closes []float64
		want   core.Direction
	}{
		{"mean reversion sells strength", New("sma", 5, MeanReversion), rising, core.DirectionSell},
		{"mean reversion buys weakness", New("sma", 5, MeanReversion), falling, core.DirectionBuy},
		{"trend following buys strength", New("sma", 5, TrendFollowing), rising, core.DirectionBuy},
		{"trend following sells weakness", New("ema", 5, TrendFollowing), falling, core.DirectionSell},
		{"flat holds", Default(), strategytest.Ramp(10, 100, 0), core.DirectionNone},
		{"too short", Default(), []float64{100, 101}, core.DirectionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.s.Analyze(strategytest.Context(tt.closes...))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Direction != tt.want {
				t.Errorf("direction = %s, want %s (%s)", d.Direction, tt.want, d.Reason)
			}
		})
	}
}

func TestIndicatorVsPrice_Init(t *testing.T) {
	s := Default()
	err := s.Init(strategy.Config{Params: map[string]any{
		"indicator":        "ema",
		"period":           10,
		"direction_policy": "trend_following",
	}})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if s.policy != TrendFollowing || s.indicator != "ema" || s.period != 10 {
		t.Errorf("unexpected config %+v", s)
	}
	if s.RequiredData().PriceHistory != 40 {
		t.Errorf("ema history = %d, want 40", s.RequiredData().PriceHistory)
	}

	for _, params := range []map[string]any{
		{"indicator": "wma"},
		{"direction_policy": "contrarian"},
		{"period": -1},
		{"threshold": 1},
	} {
		if err := Default().Init(strategy.Config{Params: params}); !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("Init(%v) = %v, want CONFIG_INVALID", params, err)
		}
	}
}

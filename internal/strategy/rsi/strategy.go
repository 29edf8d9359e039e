package rsi

import (
	"fmt"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/indicator"
	"github.com/newthinker/quantsim/internal/strategy"
)

const Name = "rsi"

// RSI buys an oversold market and sells an overbought one
type RSI struct {
	period     int
	oversold   float64
	overbought float64
}

func New(period int, oversold, overbought float64) *RSI {
	return &RSI{period: period, oversold: oversold, overbought: overbought}
}

// Default uses RSI(14) with 30/70 levels
func Default() *RSI {
	return New(14, 30, 70)
}

func (r *RSI) Name() string { return Name }

func (r *RSI) Description() string {
	return fmt.Sprintf("RSI(%d) levels %.0f/%.0f", r.period, r.oversold, r.overbought)
}

// Wilder smoothing needs a warm-up well beyond the period itself.
func (r *RSI) RequiredData() strategy.DataRequirements {
	return strategy.DataRequirements{PriceHistory: r.period*5 + 1, Indicators: []string{"RSI"}}
}

func (r *RSI) Init(cfg strategy.Config) error {
	err := strategy.Bind(Name, cfg.Params,
		strategy.Param{Key: "rsi_period", Target: &r.period},
		strategy.Param{Key: "oversold", Target: &r.oversold},
		strategy.Param{Key: "overbought", Target: &r.overbought},
	)
	if err != nil {
		return err
	}
	if r.period < 2 {
		return core.Errorf(core.ErrConfigInvalid, "%s: rsi_period must be at least 2, got %d", Name, r.period)
	}
	if r.oversold <= 0 || r.overbought >= 100 || r.oversold >= r.overbought {
		return core.Errorf(core.ErrConfigInvalid, "%s: need 0 < oversold < overbought < 100, got %.1f/%.1f", Name, r.oversold, r.overbought)
	}
	return nil
}

func (r *RSI) Analyze(ctx strategy.AnalysisContext) (strategy.Decision, error) {
	value, ok := indicator.Last(indicator.RSI(ctx.Closes(), r.period))
	if !ok {
		return strategy.Hold, nil
	}

	switch {
	case value <= r.oversold:
		return strategy.Decision{
			Direction:  core.DirectionBuy,
			Confidence: r.calculateConfidence(r.oversold - value),
			Reason:     fmt.Sprintf("RSI(%d) %.2f at or below oversold %.0f", r.period, value, r.oversold),
		}, nil
	case value >= r.overbought:
		return strategy.Decision{
			Direction:  core.DirectionSell,
			Confidence: r.calculateConfidence(value - r.overbought),
			Reason:     fmt.Sprintf("RSI(%d) %.2f at or above overbought %.0f", r.period, value, r.overbought),
		}, nil
	}
	return strategy.Hold, nil
}

// calculateConfidence grows with the distance past the level
func (r *RSI) calculateConfidence(excess float64) float64 {
	confidence := 0.5 + excess/60
	if confidence > 0.9 {
		confidence = 0.9
	}
	return confidence
}

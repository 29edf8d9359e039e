package sma_crossover

import (
	"fmt"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/indicator"
	"github.com/newthinker/quantsim/internal/strategy"
)

const Name = "sma_crossover"

// SMACrossover buys when the short SMA crosses above the long SMA and sells
// on the opposite cross.
type SMACrossover struct {
	shortPeriod int
	longPeriod  int
}

// New creates a new SMA crossover strategy
func New(shortPeriod, longPeriod int) *SMACrossover {
	return &SMACrossover{
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
	}
}

// Default uses the 5/20 periods
func Default() *SMACrossover {
	return New(5, 20)
}

func (m *SMACrossover) Name() string {
	return Name
}

func (m *SMACrossover) Description() string {
	return fmt.Sprintf("SMA Crossover (%d/%d)", m.shortPeriod, m.longPeriod)
}

func (m *SMACrossover) RequiredData() strategy.DataRequirements {
	return strategy.DataRequirements{
		PriceHistory: m.longPeriod + 1,
		Indicators:   []string{"SMA"},
	}
}

func (m *SMACrossover) Init(cfg strategy.Config) error {
	err := strategy.Bind(Name, cfg.Params,
		strategy.Param{Key: "short_period", Target: &m.shortPeriod},
		strategy.Param{Key: "long_period", Target: &m.longPeriod},
	)
	if err != nil {
		return err
	}
	if err := strategy.Positive(Name, "short_period", m.shortPeriod); err != nil {
		return err
	}
	if m.longPeriod <= m.shortPeriod {
		return core.Errorf(core.ErrConfigInvalid, "%s: long_period %d must exceed short_period %d", Name, m.longPeriod, m.shortPeriod)
	}
	return nil
}

func (m *SMACrossover) Analyze(ctx strategy.AnalysisContext) (strategy.Decision, error) {
	if len(ctx.Bars) < m.longPeriod+1 {
		return strategy.Hold, nil
	}

	prices := ctx.Closes()
	shortMA := indicator.SMA(prices, m.shortPeriod)
	longMA := indicator.SMA(prices, m.longPeriod)

	if len(shortMA) < 2 || len(longMA) < 2 {
		return strategy.Hold, nil
	}

	currShort := shortMA[len(shortMA)-1]
	prevShort := shortMA[len(shortMA)-2]
	currLong := longMA[len(longMA)-1]
	prevLong := longMA[len(longMA)-2]

	// Golden Cross
	if prevShort <= prevLong && currShort > currLong {
		return strategy.Decision{
			Direction:  core.DirectionBuy,
			Confidence: m.calculateConfidence(currShort, currLong),
			Reason:     fmt.Sprintf("Golden Cross: SMA%d (%.2f) crossed above SMA%d (%.2f)", m.shortPeriod, currShort, m.longPeriod, currLong),
		}, nil
	}

	// Death Cross
	if prevShort >= prevLong && currShort < currLong {
		return strategy.Decision{
			Direction:  core.DirectionSell,
			Confidence: m.calculateConfidence(currShort, currLong),
			Reason:     fmt.Sprintf("Death Cross: SMA%d (%.2f) crossed below SMA%d (%.2f)", m.shortPeriod, currShort, m.longPeriod, currLong),
		}, nil
	}

	return strategy.Hold, nil
}

// calculateConfidence returns higher confidence for larger divergence
func (m *SMACrossover) calculateConfidence(short, long float64) float64 {
	diff := (short - long) / long
	if diff < 0 {
		diff = -diff
	}

	// Scale to 0.5-0.9 range based on divergence
	confidence := 0.5 + (diff * 10)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return confidence
}

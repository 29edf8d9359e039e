package macd

import (
	"fmt"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/indicator"
	"github.com/newthinker/quantsim/internal/strategy"
)

const Name = "macd"

// MACD trades crossovers of the MACD line and its signal line
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

func New(fast, slow, signal int) *MACD {
	return &MACD{fastPeriod: fast, slowPeriod: slow, signalPeriod: signal}
}

// Default uses the 12/26/9 periods
func Default() *MACD {
	return New(12, 26, 9)
}

func (m *MACD) Name() string { return Name }

func (m *MACD) Description() string {
	return fmt.Sprintf("MACD (%d/%d/%d)", m.fastPeriod, m.slowPeriod, m.signalPeriod)
}

func (m *MACD) RequiredData() strategy.DataRequirements {
	return strategy.DataRequirements{
		PriceHistory: (m.slowPeriod + m.signalPeriod) * 3,
		Indicators:   []string{"MACD"},
	}
}

func (m *MACD) Init(cfg strategy.Config) error {
	err := strategy.Bind(Name, cfg.Params,
		strategy.Param{Key: "fast_period", Target: &m.fastPeriod},
		strategy.Param{Key: "slow_period", Target: &m.slowPeriod},
		strategy.Param{Key: "signal_period", Target: &m.signalPeriod},
	)
	if err != nil {
		return err
	}
	if m.fastPeriod < 2 {
		return core.Errorf(core.ErrConfigInvalid, "%s: fast_period must be at least 2, got %d", Name, m.fastPeriod)
	}
	if m.slowPeriod <= m.fastPeriod {
		return core.Errorf(core.ErrConfigInvalid, "%s: slow_period %d must exceed fast_period %d", Name, m.slowPeriod, m.fastPeriod)
	}
	return strategy.Positive(Name, "signal_period", m.signalPeriod)
}

func (m *MACD) Analyze(ctx strategy.AnalysisContext) (strategy.Decision, error) {
	line, signal, _ := indicator.MACD(ctx.Closes(), m.fastPeriod, m.slowPeriod, m.signalPeriod)
	n := len(line)
	if n < 2 {
		return strategy.Hold, nil
	}

	prevDiff := line[n-2] - signal[n-2]
	currDiff := line[n-1] - signal[n-1]

	if prevDiff <= 0 && currDiff > 0 {
		return strategy.Decision{
			Direction:  core.DirectionBuy,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("MACD %.4f crossed above signal %.4f", line[n-1], signal[n-1]),
		}, nil
	}
	if prevDiff >= 0 && currDiff < 0 {
		return strategy.Decision{
			Direction:  core.DirectionSell,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("MACD %.4f crossed below signal %.4f", line[n-1], signal[n-1]),
		}, nil
	}
	return strategy.Hold, nil
}

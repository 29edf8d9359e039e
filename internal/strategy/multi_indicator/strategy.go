package multi_indicator

import (
	"fmt"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/indicator"
	"github.com/newthinker/quantsim/internal/strategy"
)

const Name = "multi_indicator"

// MultiIndicator votes across RSI, MACD, Bollinger bands and an SMA trend
// filter and acts when one side holds the agreement threshold.
type MultiIndicator struct {
	smaPeriod  int
	rsiPeriod  int
	oversold   float64
	overbought float64
	bbPeriod   int
	bbWidth    float64
	threshold  float64
}

func New() *MultiIndicator {
	return &MultiIndicator{
		smaPeriod:  20,
		rsiPeriod:  14,
		oversold:   30,
		overbought: 70,
		bbPeriod:   20,
		bbWidth:    2,
		threshold:  0.6,
	}
}

func (m *MultiIndicator) Name() string { return Name }

func (m *MultiIndicator) Description() string {
	return fmt.Sprintf("Multi-indicator vote (SMA%d, RSI%d, MACD, BB%d) at %.0f%% agreement",
		m.smaPeriod, m.rsiPeriod, m.bbPeriod, m.threshold*100)
}

// MACD settings are fixed at the classic 12/26/9.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// window is the longest lookback of any vote. RSI and MACD are smoothed, so
// they get a few multiples of their period to settle.
func (m *MultiIndicator) window() int {
	return max((macdSlow+macdSignal)*3, m.rsiPeriod*3+1, m.smaPeriod, m.bbPeriod)
}

func (m *MultiIndicator) RequiredData() strategy.DataRequirements {
	return strategy.DataRequirements{
		PriceHistory: m.window(),
		Indicators:   []string{"SMA", "RSI", "MACD", "BBANDS"},
	}
}

func (m *MultiIndicator) Init(cfg strategy.Config) error {
	err := strategy.Bind(Name, cfg.Params,
		strategy.Param{Key: "sma_period", Target: &m.smaPeriod},
		strategy.Param{Key: "rsi_period", Target: &m.rsiPeriod},
		strategy.Param{Key: "oversold", Target: &m.oversold},
		strategy.Param{Key: "overbought", Target: &m.overbought},
		strategy.Param{Key: "bb_period", Target: &m.bbPeriod},
		strategy.Param{Key: "bb_width", Target: &m.bbWidth},
		strategy.Param{Key: "threshold", Target: &m.threshold},
	)
	if err != nil {
		return err
	}
	if m.smaPeriod <= 0 || m.rsiPeriod < 2 || m.bbPeriod < 2 {
		return core.Errorf(core.ErrConfigInvalid, "%s: periods must be at least 2", Name)
	}
	if m.bbWidth <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "%s: bb_width must be positive", Name)
	}
	if m.oversold >= m.overbought {
		return core.Errorf(core.ErrConfigInvalid, "%s: oversold must be below overbought", Name)
	}
	if m.threshold <= 0.5 || m.threshold > 1 {
		return core.Errorf(core.ErrConfigInvalid, "%s: threshold must be in (0.5, 1], got %v", Name, m.threshold)
	}
	return nil
}

// readings are the indicator values at the last bar of a window
type readings struct {
	price  float64
	sma    float64
	rsi    float64
	macd   float64
	signal float64
	upper  float64
	lower  float64
}

// totalWeight is the sum of every vote's weight; the SMA trend counts half.
const totalWeight = 3.5

func (m *MultiIndicator) score(r readings) (buy, sell float64) {
	switch {
	case r.rsi <= m.oversold:
		buy++
	case r.rsi >= m.overbought:
		sell++
	}

	if r.macd > r.signal {
		buy++
	} else {
		sell++
	}

	switch {
	case r.price <= r.lower:
		buy++
	case r.price >= r.upper:
		sell++
	}

	if r.price > r.sma {
		buy += 0.5
	} else {
		sell += 0.5
	}

	return buy / totalWeight, sell / totalWeight
}

func (m *MultiIndicator) read(closes []float64) (readings, bool) {
	r := readings{price: closes[len(closes)-1]}
	var ok bool

	if r.sma, ok = indicator.Last(indicator.SMA(closes, m.smaPeriod)); !ok {
		return r, false
	}
	if r.rsi, ok = indicator.Last(indicator.RSI(closes, m.rsiPeriod)); !ok {
		return r, false
	}
	line, signal, _ := indicator.MACD(closes, macdFast, macdSlow, macdSignal)
	if r.macd, ok = indicator.Last(line); !ok {
		return r, false
	}
	r.signal = signal[len(signal)-1]

	bands := indicator.BollingerBands(closes, m.bbPeriod, m.bbWidth)
	if bands.Len() == 0 {
		return r, false
	}
	r.upper = bands.Upper[bands.Len()-1]
	r.lower = bands.Lower[bands.Len()-1]
	return r, true
}

func (m *MultiIndicator) Analyze(ctx strategy.AnalysisContext) (strategy.Decision, error) {
	if len(ctx.Bars) == 0 {
		return strategy.Hold, nil
	}
	r, ok := m.read(ctx.Closes())
	if !ok {
		return strategy.Hold, nil
	}

	buy, sell := m.score(r)
	reason := fmt.Sprintf("RSI %.1f, MACD %.4f vs %.4f, price %.2f in [%.2f, %.2f], SMA %.2f",
		r.rsi, r.macd, r.signal, r.price, r.lower, r.upper, r.sma)

	switch {
	case buy >= m.threshold:
		return strategy.Decision{
			Direction:  core.DirectionBuy,
			Confidence: buy,
			Reason:     fmt.Sprintf("%.0f%% of votes buy: %s", buy*100, reason),
		}, nil
	case sell >= m.threshold:
		return strategy.Decision{
			Direction:  core.DirectionSell,
			Confidence: sell,
			Reason:     fmt.Sprintf("%.0f%% of votes sell: %s", sell*100, reason),
		}, nil
	}
	return strategy.Hold, nil
}

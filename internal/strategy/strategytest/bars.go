// Package strategytest builds bar series for strategy tests.
package strategytest

import (
	"time"

	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/strategy"
)

// Day0 is the timestamp of the first generated bar
var Day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// Bars returns one daily bar per close, with open equal to close and a 1% range.
func Bars(symbol string, closes ...float64) []core.Bar {
	bars := make([]core.Bar, len(closes))
	for i, c := range closes {
		bars[i] = core.Bar{
			Symbol: symbol,
			Time:   Day0.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1_000_000,
		}
	}
	return bars
}

// Context wraps closes in an analysis window ending at the last bar
func Context(closes ...float64) strategy.AnalysisContext {
	bars := Bars("TEST", closes...)
	ctx := strategy.AnalysisContext{Symbol: "TEST", Bars: bars}
	if len(bars) > 0 {
		ctx.Now = bars[len(bars)-1].Time
	}
	return ctx
}

// Ramp returns n closes starting at start and moving by step
func Ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

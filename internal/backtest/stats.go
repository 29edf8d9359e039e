package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/newthinker/quantsim/internal/broker"
	"github.com/newthinker/quantsim/internal/core"
)

// profitFactorFloor bounds the denominator of the profit factor.
const profitFactorFloor = 1e-9

// varianceFloor treats sub-epsilon dispersion as zero variance.
const varianceFloor = 1e-12

// Aggregate computes performance statistics from a completed equity curve and
// trade log. It has no state and never returns NaN. Curves with fewer than two
// points yield ErrInsufficientData.
func Aggregate(curve []broker.EquityPoint, trades []broker.Trade, cfg MetricsConfig) (*Stats, error) {
	if len(curve) < 2 {
		return nil, core.Errorf(core.ErrInsufficientData, "equity curve has %d points, need at least 2", len(curve))
	}

	first, last := curve[0], curve[len(curve)-1]
	stats := &Stats{VaRConfidence: cfg.VaRConfidence}

	if first.Equity > 0 {
		stats.TotalReturn = last.Equity/first.Equity - 1
	}
	stats.AnnualizedReturn = annualize(stats.TotalReturn, last.Time.Sub(first.Time))
	stats.MaxDrawdown = maxDrawdown(curve)

	returns := periodicReturns(sample(curve, cfg.Sampling))
	ppy := cfg.AnnualPeriods()
	rf := math.Pow(1+cfg.RiskFreeRate, 1/ppy) - 1
	stats.SharpeRatio = sharpe(returns, rf, ppy)
	stats.SortinoRatio = sortino(returns, rf, ppy)
	stats.VaR, stats.ExpectedShortfall = valueAtRisk(returns, cfg.VaRConfidence)

	var grossProfit, grossLoss, total float64
	for _, t := range trades {
		total += t.PnL
		switch {
		case t.PnL > 0:
			stats.WinningTrades++
			grossProfit += t.PnL
		case t.PnL < 0:
			stats.LosingTrades++
			grossLoss += t.PnL
		}
	}
	stats.TotalTrades = len(trades)
	stats.WinRate = float64(stats.WinningTrades) / float64(max(1, len(trades)))
	stats.ProfitFactor = grossProfit / math.Max(profitFactorFloor, math.Abs(grossLoss))
	if len(trades) > 0 {
		stats.AvgTradePnL = total / float64(len(trades))
	}

	return stats, nil
}

// annualize converts a total return over elapsed calendar time to a yearly rate.
func annualize(totalReturn float64, elapsed time.Duration) float64 {
	years := elapsed.Hours() / 24 / 365.25
	if years <= 0 {
		return 0
	}
	if 1+totalReturn <= 0 {
		return -1
	}
	return math.Pow(1+totalReturn, 1/years) - 1
}

// maxDrawdown returns the largest peak-to-trough decline as a fraction of the peak.
func maxDrawdown(curve []broker.EquityPoint) float64 {
	var maxDD float64
	peak := curve[0].Equity

	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sample keeps the first point and the closing point of every period.
func sample(curve []broker.EquityPoint, s Sampling) []broker.EquityPoint {
	if s == SampleBar || s == "" {
		return curve
	}

	key := func(t time.Time) [2]int {
		t = t.UTC()
		switch s {
		case SampleWeekly:
			y, w := t.ISOWeek()
			return [2]int{y, w}
		case SampleMonthly:
			return [2]int{t.Year(), int(t.Month())}
		default:
			return [2]int{t.Year(), t.YearDay()}
		}
	}

	out := []broker.EquityPoint{curve[0]}
	for i := 1; i < len(curve); i++ {
		if i == len(curve)-1 || key(curve[i].Time) != key(curve[i+1].Time) {
			out = append(out, curve[i])
		}
	}
	return out
}

func periodicReturns(points []broker.EquityPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, points[i].Equity/prev-1)
	}
	return returns
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sharpe uses the sample standard deviation of excess returns.
func sharpe(returns []float64, rf, ppy float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rf
	}
	m := mean(excess)

	var variance float64
	for _, x := range excess {
		variance += (x - m) * (x - m)
	}
	std := math.Sqrt(variance / float64(len(excess)-1))
	if std < varianceFloor {
		return 0
	}
	return m / std * math.Sqrt(ppy)
}

// sortino divides mean excess return by the downside deviation below rf.
func sortino(returns []float64, rf, ppy float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum, downside float64
	for _, r := range returns {
		x := r - rf
		sum += x
		if x < 0 {
			downside += x * x
		}
	}
	n := float64(len(returns))
	dd := math.Sqrt(downside / n)
	if dd < varianceFloor {
		return 0
	}
	return sum / n / dd * math.Sqrt(ppy)
}

// valueAtRisk returns the empirical VaR and expected shortfall at the given
// confidence, as positive losses. The quantile interpolates linearly between
// order statistics.
func valueAtRisk(returns []float64, confidence float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	q := quantile(sorted, 1-confidence)

	var tail float64
	var n int
	for _, r := range sorted {
		if r > q {
			break
		}
		tail += r
		n++
	}
	es := q
	if n > 0 {
		es = tail / float64(n)
	}
	return -q, -es
}

// quantile expects sorted input.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

package indicator

import "github.com/markcheno/go-talib"

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Returns slice of length: len(prices) - period, values in [0, 100].
func RSI(prices []float64, period int) []float64 {
	if period < 2 || len(prices) <= period {
		return []float64{}
	}
	return talib.Rsi(prices, period)[period:]
}

// MACD calculates the MACD line, its signal line and the histogram.
// All three slices have length: len(prices) - (slow - 1) - (signal - 1).
func MACD(prices []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	if fast < 2 || slow <= fast || signal < 1 {
		return []float64{}, []float64{}, []float64{}
	}
	lookback := (slow - 1) + (signal - 1)
	if len(prices) <= lookback {
		return []float64{}, []float64{}, []float64{}
	}

	m, s, h := talib.Macd(prices, fast, slow, signal)
	return m[lookback:], s[lookback:], h[lookback:]
}

// Bands holds Bollinger band values aligned by index.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Len returns the number of aligned band values
func (b Bands) Len() int {
	return len(b.Middle)
}

// BollingerBands calculates bands k standard deviations around an SMA.
// Each slice has length: len(prices) - period + 1
func BollingerBands(prices []float64, period int, k float64) Bands {
	if period < 2 || len(prices) < period || k <= 0 {
		return Bands{Upper: []float64{}, Middle: []float64{}, Lower: []float64{}}
	}

	upper, middle, lower := talib.BBands(prices, period, k, k, talib.SMA)
	start := period - 1
	return Bands{
		Upper:  upper[start:],
		Middle: middle[start:],
		Lower:  lower[start:],
	}
}

// Last returns the final value of a series, or false when it is empty
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// Package indicator computes technical indicators over close prices. Every
// function returns only the valid tail of the series, so the last element is
// always the value at the last price.
package indicator

import "github.com/markcheno/go-talib"

// SMA calculates Simple Moving Average
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return []float64{}
	}
	return talib.Sma(prices, period)[period-1:]
}

// EMA calculates Exponential Moving Average seeded with the SMA of the first period
// Returns slice of length: len(prices) - period + 1
func EMA(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return []float64{}
	}
	return talib.Ema(prices, period)[period-1:]
}

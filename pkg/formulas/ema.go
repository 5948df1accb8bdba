package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateEMA calculates the Exponential Moving Average
//
// EMA Formula:
//
//	EMA_today = (Value_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// Args:
//
//	values: Array of values (e.g. daily risk values)
//	length: EMA period
//
// Returns:
//
//	Current EMA value or nil if insufficient data
func CalculateEMA(values []float64, length int) *float64 {
	if len(values) == 0 {
		return nil
	}

	// If not enough data for proper EMA, fallback to SMA
	if len(values) < length {
		sma := Mean(values)
		return &sma
	}

	// Use go-talib for EMA calculation
	ema := talib.Ema(values, length)

	// Return the last value
	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	// Fallback to SMA of last 'length' values
	sma := Mean(values[len(values)-length:])
	return &sma
}

package formulas

import (
	"fmt"
	"math"
)

// LogRisk computes the logarithmic fallback risk value:
//
//	risk = clamp(a*ln(price) - b, 0, 1)
//
// Used only when a symbol has no calibration matrix or regression formula.
func LogRisk(price, a, b float64) float64 {
	if price <= 0 {
		return 0
	}
	return Clamp(a*math.Log(price)-b, 0, 1)
}

// FitLogConstants derives the two logarithmic fallback constants from two
// reference prices (historical cycle extremes): risk(floorPrice) = 0 and
// risk(peakPrice) = 1. Constants are fitted once and stored on the symbol;
// they are only ever recomputed through an explicit manual update.
func FitLogConstants(floorPrice, peakPrice float64) (a, b float64, err error) {
	if floorPrice <= 0 || peakPrice <= 0 {
		return 0, 0, fmt.Errorf("reference prices must be positive, got %f and %f", floorPrice, peakPrice)
	}
	if peakPrice <= floorPrice {
		return 0, 0, fmt.Errorf("peak price %f must exceed floor price %f", peakPrice, floorPrice)
	}

	// Solve a*ln(floor) - b = 0 and a*ln(peak) - b = 1
	a = 1 / (math.Log(peakPrice) - math.Log(floorPrice))
	b = a * math.Log(floorPrice)
	return a, b, nil
}

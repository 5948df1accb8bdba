// Package matrix implements the exact risk level matrix: an ordered set of
// (risk, price) calibration points per symbol, with linear interpolation in
// both directions.
package matrix

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/riskline/internal/domain"
)

// uniformStepTolerance bounds the allowed deviation between consecutive
// risk steps when validating a calibration sequence.
const uniformStepTolerance = 1e-9

// Matrix is an immutable, sorted set of calibration points for one symbol.
// All methods are pure functions of the stored points.
type Matrix struct {
	symbol string
	points []domain.RiskLevel // Sorted ascending by risk value
}

// New builds a matrix from calibration points. Points are copied and
// sorted by risk value; the input slice is not retained.
func New(symbol string, points []domain.RiskLevel) *Matrix {
	sorted := make([]domain.RiskLevel, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RiskValue < sorted[j].RiskValue
	})
	return &Matrix{symbol: symbol, points: sorted}
}

// Symbol returns the symbol this matrix calibrates.
func (m *Matrix) Symbol() string {
	return m.symbol
}

// Size returns the number of calibration points.
func (m *Matrix) Size() int {
	return len(m.points)
}

// Points returns a copy of the calibration points.
func (m *Matrix) Points() []domain.RiskLevel {
	out := make([]domain.RiskLevel, len(m.points))
	copy(out, m.points)
	return out
}

// Validate enforces the calibration invariants: the sorted risk sequence
// must span exactly [0.0, 1.0] with a uniform step, and prices must be
// strictly increasing with risk. Violations fail with a calibration
// mismatch rather than being silently coerced.
func (m *Matrix) Validate() error {
	if len(m.points) < 2 {
		return domain.ErrCalibrationMismatch{
			Symbol: m.symbol,
			Detail: fmt.Sprintf("need at least 2 calibration points, got %d", len(m.points)),
		}
	}

	first := m.points[0].RiskValue
	last := m.points[len(m.points)-1].RiskValue
	if math.Abs(first) > uniformStepTolerance || math.Abs(last-1.0) > uniformStepTolerance {
		return domain.ErrCalibrationMismatch{
			Symbol: m.symbol,
			Detail: fmt.Sprintf("risk sequence must span [0.0, 1.0], got [%g, %g]", first, last),
		}
	}

	expectedStep := 1.0 / float64(len(m.points)-1)
	for i := 1; i < len(m.points); i++ {
		step := m.points[i].RiskValue - m.points[i-1].RiskValue
		if math.Abs(step-expectedStep) > uniformStepTolerance {
			return domain.ErrCalibrationMismatch{
				Symbol: m.symbol,
				Detail: fmt.Sprintf("non-uniform risk step at index %d: got %g, want %g", i, step, expectedStep),
			}
		}
		if m.points[i].Price <= m.points[i-1].Price {
			return domain.ErrCalibrationMismatch{
				Symbol: m.symbol,
				Detail: fmt.Sprintf("price not strictly increasing at risk %g", m.points[i].RiskValue),
			}
		}
	}

	return nil
}

// PriceToRisk converts a price to its risk value by locating the
// bracketing pair of calibration points and interpolating linearly.
// Returns ok=false when the price falls outside the calibrated range:
// clamping is deliberately not done here because it would misrepresent
// true extremity. Callers fall back to the regression model.
func (m *Matrix) PriceToRisk(price float64) (float64, bool) {
	if len(m.points) < 2 || price <= 0 {
		return 0, false
	}
	if price < m.points[0].Price || price > m.points[len(m.points)-1].Price {
		return 0, false
	}

	// Prices are strictly increasing with risk, so binary search works in
	// the price domain too.
	idx := sort.Search(len(m.points), func(i int) bool {
		return m.points[i].Price >= price
	})
	if idx == 0 {
		return m.points[0].RiskValue, true
	}

	lower := m.points[idx-1]
	upper := m.points[idx]
	risk := lower.RiskValue + (price-lower.Price)/(upper.Price-lower.Price)*(upper.RiskValue-lower.RiskValue)
	return risk, true
}

// RiskToPrice converts a risk value to its price by interpolating between
// the bracketing calibration points. Returns ok=false when the risk value
// is outside [0, 1] or the matrix is too small.
func (m *Matrix) RiskToPrice(risk float64) (float64, bool) {
	if len(m.points) < 2 {
		return 0, false
	}
	if risk < m.points[0].RiskValue || risk > m.points[len(m.points)-1].RiskValue {
		return 0, false
	}

	idx := sort.Search(len(m.points), func(i int) bool {
		return m.points[i].RiskValue >= risk
	})
	if idx == 0 {
		return m.points[0].Price, true
	}

	lower := m.points[idx-1]
	upper := m.points[idx]
	price := lower.Price + (risk-lower.RiskValue)/(upper.RiskValue-lower.RiskValue)*(upper.Price-lower.Price)
	return price, true
}

// Package regression fits smooth monotonic polynomials to the calibration
// matrix, one per direction. The standard formula maps risk to price, the
// inverse maps price to risk. Both are fitted independently with
// closed-form least squares rather than algebraically inverted, which
// preserves numerical stability where the curve is steep.
package regression

import (
	"fmt"
	"time"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/pkg/formulas"
)

// Degree is the polynomial degree used for both fit directions.
const Degree = 3

// Fitter rebuilds regression formulas from calibration points.
type Fitter struct{}

// NewFitter creates a new regression fitter.
func NewFitter() *Fitter {
	return &Fitter{}
}

// Fit produces the standard (risk → price) and inverse (price → risk)
// cubic formulas for a symbol's calibration points. Identical input always
// yields identical coefficients: the fit is seed-free.
func (f *Fitter) Fit(symbol string, points []domain.RiskLevel, now time.Time) (standard, inverse *domain.RegressionFormula, err error) {
	if len(points) < Degree+1 {
		return nil, nil, fmt.Errorf("need at least %d calibration points to fit, got %d", Degree+1, len(points))
	}

	risks := make([]float64, len(points))
	prices := make([]float64, len(points))
	for i, p := range points {
		risks[i] = p.RiskValue
		prices[i] = p.Price
	}

	standard, err = fitDirection(symbol, domain.FormulaStandard, risks, prices, now)
	if err != nil {
		return nil, nil, fmt.Errorf("standard fit failed: %w", err)
	}

	inverse, err = fitDirection(symbol, domain.FormulaInverse, prices, risks, now)
	if err != nil {
		return nil, nil, fmt.Errorf("inverse fit failed: %w", err)
	}

	return standard, inverse, nil
}

func fitDirection(symbol string, formulaType domain.FormulaType, x, y []float64, now time.Time) (*domain.RegressionFormula, error) {
	coeffs, err := formulas.PolyFit(x, y, Degree)
	if err != nil {
		return nil, err
	}

	minX, maxX := x[0], x[0]
	for _, v := range x {
		if v < minX {
			minX = v
		}
		if v > maxX {
			maxX = v
		}
	}

	return &domain.RegressionFormula{
		Symbol:       symbol,
		Type:         formulaType,
		Degree:       Degree,
		Coefficients: coeffs,
		RSquared:     formulas.RSquared(coeffs, x, y),
		MinX:         minX,
		MaxX:         maxX,
		FittedAt:     now,
	}, nil
}

package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PolyFit fits a polynomial of the given degree to the points (x, y) using
// closed-form least squares (QR decomposition of the Vandermonde matrix).
// Returns coefficients in ascending order: c0 + c1*x + c2*x^2 + ...
//
// The fit is deterministic: identical inputs always produce identical
// coefficients.
func PolyFit(x, y []float64, degree int) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("mismatched input lengths: %d vs %d", len(x), len(y))
	}
	if degree < 1 {
		return nil, fmt.Errorf("degree must be >= 1, got %d", degree)
	}
	if len(x) < degree+1 {
		return nil, fmt.Errorf("need at least %d points for degree %d fit, got %d", degree+1, degree, len(x))
	}

	// Build the Vandermonde matrix: row i is [1, x_i, x_i^2, ..., x_i^degree]
	rows := len(x)
	cols := degree + 1
	a := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		v := 1.0
		for j := 0; j < cols; j++ {
			a.Set(i, j, v)
			v *= x[i]
		}
	}
	b := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		b.Set(i, 0, y[i])
	}

	var qr mat.QR
	qr.Factorize(a)

	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, b); err != nil {
		return nil, fmt.Errorf("least squares solve failed: %w", err)
	}

	coeffs := make([]float64, cols)
	for j := 0; j < cols; j++ {
		coeffs[j] = beta.At(j, 0)
	}
	return coeffs, nil
}

// PolyEval evaluates a polynomial with ascending coefficients at x using
// Horner's method.
func PolyEval(coeffs []float64, x float64) float64 {
	result := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = result*x + coeffs[i]
	}
	return result
}

// RSquared computes the coefficient of determination for a fitted
// polynomial against the observed points.
func RSquared(coeffs, x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}

	meanY := Mean(y)
	ssRes := 0.0
	ssTot := 0.0
	for i := range x {
		predicted := PolyEval(coeffs, x[i])
		ssRes += (y[i] - predicted) * (y[i] - predicted)
		ssTot += (y[i] - meanY) * (y[i] - meanY)
	}

	if ssTot == 0 {
		// Constant observations: a perfect fit has no residual
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// Clamp bounds v to [low, high].
func Clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}

package regression

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/riskline/internal/domain"
)

// cubicCurvePoints samples a cubic price curve at a uniform risk grid.
func cubicCurvePoints(symbol string, n int) []domain.RiskLevel {
	points := make([]domain.RiskLevel, n)
	step := 1.0 / float64(n-1)
	for i := 0; i < n; i++ {
		risk := float64(i) * step
		// Strictly increasing cubic in risk
		price := 5000 + 30000*risk + 12000*risk*risk + 8000*risk*risk*risk
		points[i] = domain.RiskLevel{Symbol: symbol, RiskValue: risk, Price: price}
	}
	return points
}

func TestFit_RecoverExactCubic(t *testing.T) {
	fitter := NewFitter()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	standard, inverse, err := fitter.Fit("BTC", cubicCurvePoints("BTC", 41), now)
	require.NoError(t, err)

	// The standard direction is exactly cubic, so the fit is perfect
	assert.InDelta(t, 1.0, standard.RSquared, 1e-9)
	assert.Equal(t, domain.FormulaStandard, standard.Type)
	assert.Equal(t, 3, standard.Degree)
	assert.InDelta(t, 0.0, standard.MinX, 1e-12)
	assert.InDelta(t, 1.0, standard.MaxX, 1e-12)

	// Coefficients of the generating polynomial are recovered
	require.Len(t, standard.Coefficients, 4)
	assert.InDelta(t, 5000, standard.Coefficients[0], 1e-6)
	assert.InDelta(t, 30000, standard.Coefficients[1], 1e-5)
	assert.InDelta(t, 12000, standard.Coefficients[2], 1e-5)
	assert.InDelta(t, 8000, standard.Coefficients[3], 1e-5)

	// The inverse of a cubic is not a cubic, but the fit should still be
	// close on a well-behaved curve
	assert.Equal(t, domain.FormulaInverse, inverse.Type)
	assert.Greater(t, inverse.RSquared, 0.99)
	assert.InDelta(t, 5000, inverse.MinX, 1e-6)
	assert.InDelta(t, 55000, inverse.MaxX, 1e-6)
}

func TestFit_Deterministic(t *testing.T) {
	fitter := NewFitter()
	now := time.Now().UTC()
	points := cubicCurvePoints("BTC", 41)

	s1, i1, err := fitter.Fit("BTC", points, now)
	require.NoError(t, err)
	s2, i2, err := fitter.Fit("BTC", points, now)
	require.NoError(t, err)

	assert.Equal(t, s1.Coefficients, s2.Coefficients)
	assert.Equal(t, i1.Coefficients, i2.Coefficients)
}

func TestFit_TooFewPoints(t *testing.T) {
	fitter := NewFitter()
	_, _, err := fitter.Fit("BTC", cubicCurvePoints("BTC", 3), time.Now())
	assert.Error(t, err)
}

func TestEvaluate_Horner(t *testing.T) {
	formula := domain.RegressionFormula{
		Coefficients: []float64{1, 2, 3}, // 1 + 2x + 3x^2
	}
	assert.InDelta(t, 1.0, formula.Evaluate(0), 1e-12)
	assert.InDelta(t, 6.0, formula.Evaluate(1), 1e-12)
	assert.InDelta(t, 17.0, formula.Evaluate(2), 1e-12)
}

func setupUniverseDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE regression_formulas (
			symbol TEXT NOT NULL,
			formula_type TEXT NOT NULL,
			degree INTEGER NOT NULL,
			coefficients BLOB NOT NULL,
			r_squared REAL NOT NULL,
			min_x REAL NOT NULL,
			max_x REAL NOT NULL,
			fitted_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, formula_type)
		)
	`)
	require.NoError(t, err)
	return db
}

func TestRepository_SaveAndGet(t *testing.T) {
	db := setupUniverseDB(t)
	repo := NewRepository(db, zerolog.Nop())
	fitter := NewFitter()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	standard, inverse, err := fitter.Fit("BTC", cubicCurvePoints("BTC", 41), now)
	require.NoError(t, err)
	require.NoError(t, repo.SaveBoth(standard, inverse))

	got, err := repo.Get("BTC", domain.FormulaStandard)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, standard.Coefficients, got.Coefficients)
	assert.Equal(t, standard.RSquared, got.RSquared)
	assert.Equal(t, now.Unix(), got.FittedAt.Unix())

	// Refitting overwrites, never duplicates
	require.NoError(t, repo.SaveBoth(standard, inverse))
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM regression_formulas WHERE symbol = 'BTC'").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRepository_GetMissing(t *testing.T) {
	db := setupUniverseDB(t)
	repo := NewRepository(db, zerolog.Nop())

	got, err := repo.Get("UNKNOWN", domain.FormulaInverse)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_SymbolMismatch(t *testing.T) {
	db := setupUniverseDB(t)
	repo := NewRepository(db, zerolog.Nop())

	a := &domain.RegressionFormula{Symbol: "BTC", Type: domain.FormulaStandard, Coefficients: []float64{1}}
	b := &domain.RegressionFormula{Symbol: "ETH", Type: domain.FormulaInverse, Coefficients: []float64{1}}
	assert.Error(t, repo.SaveBoth(a, b))
}

func TestLowConfidence(t *testing.T) {
	high := domain.RegressionFormula{RSquared: 0.995}
	low := domain.RegressionFormula{RSquared: 0.95}
	assert.False(t, high.LowConfidence())
	assert.True(t, low.LowConfidence())
}

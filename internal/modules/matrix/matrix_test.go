package matrix

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/riskline/internal/domain"
)

// calibrationPoints builds a uniform n-point matrix with prices from a
// simple increasing curve.
func calibrationPoints(symbol string, n int) []domain.RiskLevel {
	points := make([]domain.RiskLevel, n)
	step := 1.0 / float64(n-1)
	for i := 0; i < n; i++ {
		risk := float64(i) * step
		points[i] = domain.RiskLevel{
			Symbol:    symbol,
			RiskValue: risk,
			Price:     1000 + 9000*risk*risk + 5000*risk,
		}
	}
	return points
}

func TestValidate_UniformStep(t *testing.T) {
	m := New("BTC", calibrationPoints("BTC", 41))
	require.NoError(t, m.Validate())
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(points []domain.RiskLevel) []domain.RiskLevel
	}{
		{
			"too few points",
			func(p []domain.RiskLevel) []domain.RiskLevel { return p[:1] },
		},
		{
			"missing endpoint",
			func(p []domain.RiskLevel) []domain.RiskLevel { return p[:len(p)-1] },
		},
		{
			"non-uniform step",
			func(p []domain.RiskLevel) []domain.RiskLevel {
				p[3].RiskValue += 0.01
				return p
			},
		},
		{
			"non-monotonic price",
			func(p []domain.RiskLevel) []domain.RiskLevel {
				p[5].Price = p[4].Price - 1
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := tt.mutate(calibrationPoints("BTC", 41))
			err := New("BTC", points).Validate()
			require.Error(t, err)
			assert.True(t, domain.IsCalibrationMismatch(err))
		})
	}
}

func TestPriceToRisk_Interpolation(t *testing.T) {
	// Exact scenario: (0.5, 80000) and (0.6, 95000) bracket 87500
	points := []domain.RiskLevel{
		{Symbol: "BTC", RiskValue: 0.0, Price: 10000},
		{Symbol: "BTC", RiskValue: 0.1, Price: 20000},
		{Symbol: "BTC", RiskValue: 0.2, Price: 30000},
		{Symbol: "BTC", RiskValue: 0.3, Price: 45000},
		{Symbol: "BTC", RiskValue: 0.4, Price: 62000},
		{Symbol: "BTC", RiskValue: 0.5, Price: 80000},
		{Symbol: "BTC", RiskValue: 0.6, Price: 95000},
		{Symbol: "BTC", RiskValue: 0.7, Price: 115000},
		{Symbol: "BTC", RiskValue: 0.8, Price: 140000},
		{Symbol: "BTC", RiskValue: 0.9, Price: 170000},
		{Symbol: "BTC", RiskValue: 1.0, Price: 210000},
	}
	m := New("BTC", points)
	require.NoError(t, m.Validate())

	risk, ok := m.PriceToRisk(87500)
	require.True(t, ok)
	assert.InDelta(t, 0.5333, risk, 0.0001)
}

func TestPriceToRisk_OutOfRange(t *testing.T) {
	m := New("BTC", calibrationPoints("BTC", 41))

	// Below the lowest and above the highest calibration point: no clamp,
	// the caller must fall back to the regression model
	_, ok := m.PriceToRisk(m.points[0].Price - 1)
	assert.False(t, ok)

	_, ok = m.PriceToRisk(m.points[len(m.points)-1].Price + 1)
	assert.False(t, ok)

	_, ok = m.PriceToRisk(-5)
	assert.False(t, ok)
}

func TestRoundTrip_OnCalibrationPoints(t *testing.T) {
	m := New("BTC", calibrationPoints("BTC", 41))

	for _, p := range m.Points() {
		price, ok := m.RiskToPrice(p.RiskValue)
		require.True(t, ok)
		risk, ok := m.PriceToRisk(price)
		require.True(t, ok)
		assert.InDelta(t, p.RiskValue, risk, 1e-6)
	}
}

func TestMonotonicity(t *testing.T) {
	m := New("BTC", calibrationPoints("BTC", 41))

	prevPrice := -1.0
	for r := 0.0; r <= 1.0; r += 0.01 {
		price, ok := m.RiskToPrice(r)
		require.True(t, ok, "risk %f", r)
		assert.GreaterOrEqual(t, price, prevPrice, "risk_to_price must be non-decreasing")
		prevPrice = price
	}

	lowest := m.points[0].Price
	highest := m.points[len(m.points)-1].Price
	prevRisk := -1.0
	for i := 0; i <= 100; i++ {
		price := lowest + (highest-lowest)*float64(i)/100
		risk, ok := m.PriceToRisk(price)
		require.True(t, ok, "price %f", price)
		assert.GreaterOrEqual(t, risk, prevRisk, "price_to_risk must be non-decreasing")
		prevRisk = risk
	}
}

func setupUniverseDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE risk_levels (
			symbol TEXT NOT NULL,
			risk_value REAL NOT NULL,
			price REAL NOT NULL,
			PRIMARY KEY (symbol, risk_value)
		)
	`)
	require.NoError(t, err)
	return db
}

func TestRepository_ReplaceAndLoad(t *testing.T) {
	db := setupUniverseDB(t)
	repo := NewRepository(db, zerolog.Nop())

	points := calibrationPoints("BTC", 41)
	require.NoError(t, repo.ReplaceForSymbol("BTC", points))

	m, err := repo.LoadMatrix("BTC")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 41, m.Size())

	// Replacing again must not duplicate rows
	require.NoError(t, repo.ReplaceForSymbol("BTC", points))
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM risk_levels WHERE symbol = 'BTC'").Scan(&count))
	assert.Equal(t, 41, count)
}

func TestRepository_ReplaceRejectsInvalid(t *testing.T) {
	db := setupUniverseDB(t)
	repo := NewRepository(db, zerolog.Nop())

	// Seed a valid matrix first
	require.NoError(t, repo.ReplaceForSymbol("BTC", calibrationPoints("BTC", 41)))

	// An invalid replacement must be rejected before any write
	bad := calibrationPoints("BTC", 41)
	bad[10].RiskValue += 0.01
	err := repo.ReplaceForSymbol("BTC", bad)
	require.Error(t, err)
	assert.True(t, domain.IsCalibrationMismatch(err))

	// Prior calibration stays intact
	m, err := repo.LoadMatrix("BTC")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 41, m.Size())
}

func TestRepository_LoadMissingSymbol(t *testing.T) {
	db := setupUniverseDB(t)
	repo := NewRepository(db, zerolog.Nop())

	m, err := repo.LoadMatrix("UNKNOWN")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestInterpolation_AllSegments(t *testing.T) {
	m := New("ETH", calibrationPoints("ETH", 11))

	for i := 0; i < m.Size()-1; i++ {
		lower := m.points[i]
		upper := m.points[i+1]
		mid := (lower.Price + upper.Price) / 2

		risk, ok := m.PriceToRisk(mid)
		require.True(t, ok)

		want := lower.RiskValue + (mid-lower.Price)/(upper.Price-lower.Price)*(upper.RiskValue-lower.RiskValue)
		assert.InDelta(t, want, risk, 1e-12, fmt.Sprintf("segment %d", i))
	}
}

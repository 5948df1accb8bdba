// Package domain contains the core entities of the risk engine.
// The domain layer is pure: no database, HTTP, or logging dependencies.
package domain

import (
	"time"
)

// Symbol represents a tracked asset with its calibrated price bounds.
// MinPrice and MaxPrice correspond to risk 0.0 and risk 1.0 respectively.
// Bounds are only ever mutated through the bounds service, which records
// a ManualOverride row for every change.
type Symbol struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	MinPrice      float64   `json:"min_price"`
	MaxPrice      float64   `json:"max_price"`
	LogA          *float64  `json:"log_a,omitempty"` // Logarithmic fallback constant a
	LogB          *float64  `json:"log_b,omitempty"` // Logarithmic fallback constant b
	InceptionDate time.Time `json:"inception_date"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LifeAgeDays returns the number of whole days the asset has existed.
func (s *Symbol) LifeAgeDays(now time.Time) int {
	if s.InceptionDate.IsZero() {
		return 0
	}
	return int(now.Sub(s.InceptionDate).Hours() / 24)
}

// HasLogConstants reports whether the logarithmic fallback can be used.
func (s *Symbol) HasLogConstants() bool {
	return s.LogA != nil && s.LogB != nil
}

// RiskLevel is a single exact calibration point: at Price the asset sits
// at RiskValue. Points come from the calibration authority, typically 41
// per symbol with a uniform 0.025 step.
type RiskLevel struct {
	Symbol    string  `json:"symbol"`
	RiskValue float64 `json:"risk_value"`
	Price     float64 `json:"price"`
}

// FormulaType identifies the direction of a fitted regression formula.
type FormulaType string

const (
	// FormulaStandard maps risk to price.
	FormulaStandard FormulaType = "standard"
	// FormulaInverse maps price to risk.
	FormulaInverse FormulaType = "inverse"
)

// RegressionFormula holds a fitted polynomial for one direction.
// Standard and inverse formulas are fitted independently rather than
// algebraically inverted, which keeps evaluation stable at the steep
// extremes of the curve.
type RegressionFormula struct {
	Symbol       string      `json:"symbol"`
	Type         FormulaType `json:"formula_type"`
	Degree       int         `json:"degree"`
	Coefficients []float64   `json:"coefficients"` // Ascending order: c0 + c1*x + c2*x^2 + ...
	RSquared     float64     `json:"r_squared"`
	MinX         float64     `json:"min_x"`
	MaxX         float64     `json:"max_x"`
	FittedAt     time.Time   `json:"fitted_at"`
}

// Evaluate computes the polynomial at x using Horner's method.
func (f *RegressionFormula) Evaluate(x float64) float64 {
	result := 0.0
	for i := len(f.Coefficients) - 1; i >= 0; i-- {
		result = result*x + f.Coefficients[i]
	}
	return result
}

// LowConfidence reports whether the fit quality is below the trust
// threshold. Low-confidence formulas are still stored and served, but the
// assessment confidence reflects them.
func (f *RegressionFormula) LowConfidence() bool {
	return f.RSquared < RSquaredThreshold
}

// RSquaredThreshold is the minimum fit quality for a regression formula
// to be considered high-confidence.
const RSquaredThreshold = 0.98

// TimeSpentBand describes how much of an asset's lifetime was spent inside
// one 0.1-wide risk band. Derived data: safe to drop and rebuild from the
// raw daily risk history at any time.
type TimeSpentBand struct {
	Symbol           string    `json:"symbol"`
	BandLow          float64   `json:"band_low"`
	BandHigh         float64   `json:"band_high"`
	DaysSpent        int       `json:"days_spent"`
	PercentageOfLife float64   `json:"percentage_of_life"` // 0..1 fraction of life_age_days
	EntryCount       int       `json:"entry_count"`
	AvgDurationDays  float64   `json:"avg_duration_days"`
	Coefficient      float64   `json:"coefficient"` // 1.0 .. 1.6, from the rarity table
	ComputedAt       time.Time `json:"computed_at"`
}

// OverrideField names a Symbol field changed by a manual override.
type OverrideField string

const (
	OverrideMinPrice OverrideField = "min_price"
	OverrideMaxPrice OverrideField = "max_price"
)

// ManualOverride is an append-only audit record of a bounds mutation.
// Every changed field produces exactly one row.
type ManualOverride struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	Field         OverrideField `json:"field"`
	PreviousValue float64       `json:"previous_value"`
	NewValue      float64       `json:"new_value"`
	Reason        string        `json:"reason"`
	Actor         string        `json:"actor"`
	CreatedAt     time.Time     `json:"created_at"`
}

// DailyRisk is one day of historical risk for a symbol.
type DailyRisk struct {
	Date time.Time `json:"date"`
	Risk float64   `json:"risk_value"`
}

// Zone is the qualitative market phase derived from the risk value.
type Zone string

const (
	ZoneAccumulation Zone = "accumulation"
	ZoneEarlyBull    Zone = "early_bull"
	ZoneNeutral      Zone = "neutral"
	ZoneLateBull     Zone = "late_bull"
	ZoneDistribution Zone = "distribution"
)

// Signal is the trading signal derived from the final score and zone.
type Signal string

const (
	SignalBuy     Signal = "BUY"
	SignalSell    Signal = "SELL"
	SignalNeutral Signal = "NEUTRAL"
	SignalWait    Signal = "WAIT"
)

// Resolution tags which path produced the risk value. Confidence scoring
// is a pure function of this tag, so callers never have to re-inspect
// which code path ran.
type Resolution string

const (
	ResolutionMatrix      Resolution = "matrix"
	ResolutionRegression  Resolution = "regression"
	ResolutionLogarithmic Resolution = "logarithmic"
)

// Assessment is the flat, JSON-serializable result of a risk assessment.
// It is either fully populated or not returned at all.
type Assessment struct {
	Symbol        string     `json:"symbol"`
	Price         float64    `json:"price"`
	RiskValue     float64    `json:"risk_value"`
	Band          int        `json:"band"` // 0..9, containing 0.1-wide band
	Zone          Zone       `json:"zone"`
	BaseScore     float64    `json:"base_score"`
	Coefficient   float64    `json:"coefficient"`
	FinalScore    float64    `json:"final_score"`
	Signal        Signal     `json:"signal"`
	Confidence    float64    `json:"confidence"`
	Resolution    Resolution `json:"resolution"`
	LowConfidence bool       `json:"low_confidence"`
	Momentum      *float64   `json:"momentum,omitempty"` // Risk minus EMA(10) of recent history
	Timestamp     time.Time  `json:"timestamp"`
}

// BatchResult pairs a symbol with either its assessment or an error
// message. Batch operations isolate per-symbol failures.
type BatchResult struct {
	Symbol     string      `json:"symbol"`
	Assessment *Assessment `json:"assessment,omitempty"`
	Error      string      `json:"error,omitempty"`
}

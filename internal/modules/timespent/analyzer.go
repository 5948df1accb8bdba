// Package timespent computes how much of an asset's lifetime was spent in
// each 0.1-wide risk band, and derives a rarity coefficient per band.
package timespent

import (
	"sort"
	"time"

	"github.com/aristath/riskline/internal/domain"
)

// BandCount is the number of equal-width bands partitioning [0, 1].
const BandCount = 10

// RarityStep is one step of the rarity-to-coefficient table: any lifetime
// percentage up to and including MaxPercentage maps to Coefficient. Ties
// on a boundary resolve to the rarer (higher-coefficient) bucket.
type RarityStep struct {
	MaxPercentage float64
	Coefficient   float64
}

// DefaultRarityTable is the fixed rarity step function. Lower percentage
// of life means higher coefficient; the mapping is monotonic
// non-increasing from 1.6 down to 1.0. The values are empirically chosen
// constants of the methodology; altering them changes trading semantics.
var DefaultRarityTable = []RarityStep{
	{MaxPercentage: 0.0, Coefficient: 1.6},
	{MaxPercentage: 0.01, Coefficient: 1.55},
	{MaxPercentage: 0.025, Coefficient: 1.5},
	{MaxPercentage: 0.05, Coefficient: 1.4},
	{MaxPercentage: 0.10, Coefficient: 1.3},
	{MaxPercentage: 0.15, Coefficient: 1.2},
	{MaxPercentage: 0.20, Coefficient: 1.1},
}

// neutralCoefficient applies beyond the last table step.
const neutralCoefficient = 1.0

// Analyzer derives time-spent bands from historical daily risk values.
// The rarity table is injected at construction so tests can substitute
// their own; it is treated as immutable.
type Analyzer struct {
	rarityTable []RarityStep
}

// NewAnalyzer creates an analyzer with the given rarity table. A nil
// table selects DefaultRarityTable.
func NewAnalyzer(rarityTable []RarityStep) *Analyzer {
	if rarityTable == nil {
		rarityTable = DefaultRarityTable
	}
	return &Analyzer{rarityTable: rarityTable}
}

// CoefficientFor maps a lifetime percentage to its rarity coefficient.
func (a *Analyzer) CoefficientFor(percentage float64) float64 {
	for _, step := range a.rarityTable {
		if percentage <= step.MaxPercentage {
			return step.Coefficient
		}
	}
	return neutralCoefficient
}

// Analyze partitions the risk axis into ten bands and computes, for each,
// days spent, percentage of the symbol's lifetime, entry count, and the
// average duration of a contiguous stay.
//
// Returns an empty result when the symbol has no lifetime or no history;
// callers must treat the coefficient as neutral (1.0) in that case rather
// than failing the whole assessment.
func (a *Analyzer) Analyze(symbol *domain.Symbol, history []domain.DailyRisk, now time.Time) []domain.TimeSpentBand {
	if symbol == nil || len(history) == 0 {
		return nil
	}
	lifeAgeDays := symbol.LifeAgeDays(now)
	if lifeAgeDays <= 0 {
		return nil
	}

	sorted := make([]domain.DailyRisk, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	daysSpent := make([]int, BandCount)
	entryCount := make([]int, BandCount)

	prevBand := -1
	for _, day := range sorted {
		band := BandIndex(day.Risk)
		daysSpent[band]++
		if band != prevBand {
			entryCount[band]++
		}
		prevBand = band
	}

	bands := make([]domain.TimeSpentBand, 0, BandCount)
	for i := 0; i < BandCount; i++ {
		percentage := float64(daysSpent[i]) / float64(lifeAgeDays)

		avgDuration := 0.0
		if entryCount[i] > 0 {
			avgDuration = float64(daysSpent[i]) / float64(entryCount[i])
		}

		bands = append(bands, domain.TimeSpentBand{
			Symbol:           symbol.Symbol,
			BandLow:          float64(i) / 10,
			BandHigh:         float64(i+1) / 10,
			DaysSpent:        daysSpent[i],
			PercentageOfLife: percentage,
			EntryCount:       entryCount[i],
			AvgDurationDays:  avgDuration,
			Coefficient:      a.CoefficientFor(percentage),
			ComputedAt:       now,
		})
	}

	return bands
}

// BandIndex returns the 0..9 index of the band containing a risk value.
// Risk 1.0 belongs to the top band.
func BandIndex(risk float64) int {
	if risk < 0 {
		return 0
	}
	if risk >= 1 {
		return BandCount - 1
	}
	return int(risk * 10)
}

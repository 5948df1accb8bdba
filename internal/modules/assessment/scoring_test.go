package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/riskline/internal/domain"
)

func TestClassifyZone_Boundaries(t *testing.T) {
	tests := []struct {
		risk float64
		want domain.Zone
	}{
		{0.0, domain.ZoneAccumulation},
		{0.19999, domain.ZoneAccumulation},
		{0.2, domain.ZoneEarlyBull},
		{0.39999, domain.ZoneEarlyBull},
		{0.4, domain.ZoneNeutral},
		{0.6, domain.ZoneLateBull},
		{0.8, domain.ZoneDistribution},
		{1.0, domain.ZoneDistribution},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyZone(DefaultZoneThresholds, tt.risk), "risk %f", tt.risk)
	}
}

func TestScorer_NoHistoryUsesZoneFloor(t *testing.T) {
	s := newScorer(DefaultZoneThresholds, nil)

	assert.Equal(t, 70.0, s.baseScore(domain.ZoneAccumulation, 0.1))
	assert.Equal(t, 60.0, s.baseScore(domain.ZoneEarlyBull, 0.3))
	assert.Equal(t, 40.0, s.baseScore(domain.ZoneNeutral, 0.5))
	assert.Equal(t, 60.0, s.baseScore(domain.ZoneLateBull, 0.7))
	assert.Equal(t, 70.0, s.baseScore(domain.ZoneDistribution, 0.9))
}

func TestScorer_UniformProfileEarnsNoBonus(t *testing.T) {
	s := newScorer(DefaultZoneThresholds, evenBands("BTC"))

	assert.Equal(t, 0.0, s.rarityBonus(0.55))
	assert.Equal(t, 0.0, s.proximityBonus(0.55))
	assert.Equal(t, 40.0, s.baseScore(domain.ZoneNeutral, 0.55))
}

func TestScorer_RarestBandEarnsFullRarityBonus(t *testing.T) {
	bands := evenBands("BTC")
	bands[9].PercentageOfLife = 0.001 // rarest
	bands[0].PercentageOfLife = 0.3   // most common

	s := newScorer(DefaultZoneThresholds, bands)

	assert.Equal(t, maxRarityBonus, s.rarityBonus(0.95))
	assert.Equal(t, 0.0, s.rarityBonus(0.05))
}

func TestScorer_ProximityTowardRarerNeighbor(t *testing.T) {
	bands := evenBands("BTC")
	bands[6].PercentageOfLife = 0.01 // band [0.6, 0.7) is rare

	s := newScorer(DefaultZoneThresholds, bands)

	// In band 5, approaching the shared boundary at 0.6 from below
	far := s.proximityBonus(0.51)
	near := s.proximityBonus(0.59)
	assert.Greater(t, near, far)
	assert.InDelta(t, 0.9*maxProximityBonus, near, 0.01)

	// In band 7, approaching the same rare band from above
	assert.Greater(t, s.proximityBonus(0.71), s.proximityBonus(0.79))

	// Inside the rare band itself both neighbors are more common: no bonus
	assert.Equal(t, 0.0, s.proximityBonus(0.65))
}

func TestScorer_BonusNeverExceedsZoneCeiling(t *testing.T) {
	bands := evenBands("BTC")
	bands[9].PercentageOfLife = 0.0
	bands[8].PercentageOfLife = 0.001

	s := newScorer(DefaultZoneThresholds, bands)

	// Band 9 is rarest and sits next to the second-rarest: maximal bonus,
	// still clamped to the zone range
	score := s.baseScore(domain.ZoneDistribution, 0.95)
	assert.LessOrEqual(t, score, 100.0)
	assert.GreaterOrEqual(t, score, 70.0)

	// Neutral zone is narrower than the bonus budget
	bands = evenBands("BTC")
	bands[5].PercentageOfLife = 0.0
	bands[6].PercentageOfLife = 0.001
	s = newScorer(DefaultZoneThresholds, bands)
	assert.LessOrEqual(t, s.baseScore(domain.ZoneNeutral, 0.55), 60.0)
}

func TestDeriveSignal(t *testing.T) {
	tests := []struct {
		score float64
		zone  domain.Zone
		want  domain.Signal
	}{
		{85, domain.ZoneAccumulation, domain.SignalBuy},
		{85, domain.ZoneDistribution, domain.SignalSell},
		{85, domain.ZoneNeutral, domain.SignalNeutral},
		{80, domain.ZoneAccumulation, domain.SignalBuy},
		{79.9, domain.ZoneAccumulation, domain.SignalNeutral},
		{60, domain.ZoneLateBull, domain.SignalNeutral},
		{59.9, domain.ZoneNeutral, domain.SignalWait},
		{0, domain.ZoneAccumulation, domain.SignalWait},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, deriveSignal(tt.score, tt.zone), "score %.1f zone %s", tt.score, tt.zone)
	}
}

func TestDeriveConfidence(t *testing.T) {
	assert.Equal(t, 0.9, deriveConfidence(domain.ResolutionMatrix, false))
	assert.Equal(t, 0.7, deriveConfidence(domain.ResolutionRegression, false))
	assert.Equal(t, 0.5, deriveConfidence(domain.ResolutionRegression, true))
	assert.Equal(t, 0.5, deriveConfidence(domain.ResolutionLogarithmic, true))
}

package assessment

import (
	"math"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/internal/modules/timespent"
)

// ZoneThreshold maps the upper edge of a risk interval to its zone.
// Intervals are half-open below the edge; the last zone includes 1.0.
type ZoneThreshold struct {
	Max  float64
	Zone domain.Zone
}

// DefaultZoneThresholds partitions [0, 1] into the five market zones.
var DefaultZoneThresholds = []ZoneThreshold{
	{Max: 0.2, Zone: domain.ZoneAccumulation},
	{Max: 0.4, Zone: domain.ZoneEarlyBull},
	{Max: 0.6, Zone: domain.ZoneNeutral},
	{Max: 0.8, Zone: domain.ZoneLateBull},
	{Max: math.Inf(1), Zone: domain.ZoneDistribution},
}

// Bonus budget: rarity and proximity together never add more than
// maxCombinedBonus to the zone's base score.
const (
	maxRarityBonus    = 20.0
	maxProximityBonus = 15.0
	maxCombinedBonus  = 35.0
)

// zoneRange is the base score range of a zone. The extremes of the risk
// axis score highest because that is where positioning decisions happen;
// the middle of the range is deliberately unexciting.
type zoneRange struct {
	min, max float64
}

var zoneRanges = map[domain.Zone]zoneRange{
	domain.ZoneAccumulation: {min: 70, max: 100},
	domain.ZoneEarlyBull:    {min: 60, max: 70},
	domain.ZoneNeutral:      {min: 40, max: 60},
	domain.ZoneLateBull:     {min: 60, max: 70},
	domain.ZoneDistribution: {min: 70, max: 100},
}

// classifyZone returns the market zone for a risk value.
func classifyZone(thresholds []ZoneThreshold, risk float64) domain.Zone {
	for _, t := range thresholds {
		if risk < t.Max {
			return t.Zone
		}
	}
	return thresholds[len(thresholds)-1].Zone
}

// scorer computes base scores from the zone and the time-spent profile.
// It is built per snapshot and immutable afterwards.
type scorer struct {
	thresholds []ZoneThreshold

	// Percentage of life per band, and each band's rarity rank: the
	// number of bands the asset visited strictly more often. Rank 9
	// means every other band is more common. Zero-valued when no
	// history exists, which yields no bonus.
	percentages [timespent.BandCount]float64
	ranks       [timespent.BandCount]int
	hasHistory  bool
}

func newScorer(thresholds []ZoneThreshold, bands []domain.TimeSpentBand) *scorer {
	s := &scorer{thresholds: thresholds}
	if len(bands) == 0 {
		return s
	}
	s.hasHistory = true

	for _, band := range bands {
		idx := timespent.BandIndex(band.BandLow + 0.05)
		s.percentages[idx] = band.PercentageOfLife
	}

	// Ties rank equally, so a uniform profile earns no rarity bonus
	// anywhere.
	for i := 0; i < timespent.BandCount; i++ {
		for j := 0; j < timespent.BandCount; j++ {
			if s.percentages[j] > s.percentages[i] {
				s.ranks[i]++
			}
		}
	}
	return s
}

// baseScore positions the score inside the zone's range. The zone floor is
// the starting point; rarity and proximity bonuses push it toward the
// ceiling, never past it.
func (s *scorer) baseScore(zone domain.Zone, risk float64) float64 {
	r := zoneRanges[zone]
	bonus := math.Min(s.rarityBonus(risk)+s.proximityBonus(risk), maxCombinedBonus)

	score := r.min + bonus
	if score > r.max {
		return r.max
	}
	return score
}

// rarityBonus rewards risk levels the asset has rarely visited. The band's
// rank among all ten bands scales the bonus linearly: a band rarer than
// all nine others earns the full bonus, the most common earns none.
func (s *scorer) rarityBonus(risk float64) float64 {
	if !s.hasHistory {
		return 0
	}
	rank := s.ranks[timespent.BandIndex(risk)]
	return maxRarityBonus * float64(rank) / float64(timespent.BandCount-1)
}

// proximityBonus rewards a risk value sitting close to the edge of a rarer
// neighboring band. Closeness is measured to the shared boundary and
// scales linearly across the band's width.
func (s *scorer) proximityBonus(risk float64) float64 {
	if !s.hasHistory {
		return 0
	}

	band := timespent.BandIndex(risk)
	own := s.percentages[band]
	bandWidth := 1.0 / float64(timespent.BandCount)

	best := 0.0
	if prev := band - 1; prev >= 0 && s.percentages[prev] < own {
		boundary := float64(band) * bandWidth
		closeness := 1 - (risk-boundary)/bandWidth
		best = math.Max(best, closeness)
	}
	if next := band + 1; next < timespent.BandCount && s.percentages[next] < own {
		boundary := float64(band+1) * bandWidth
		closeness := 1 - (boundary-risk)/bandWidth
		best = math.Max(best, closeness)
	}

	if best < 0 {
		best = 0
	}
	return maxProximityBonus * best
}

// deriveSignal maps the final score and zone to a trading signal. High
// scores only become actionable at the extremes of the risk axis, where
// the zone disambiguates direction.
func deriveSignal(score float64, zone domain.Zone) domain.Signal {
	switch {
	case score >= 80 && zone == domain.ZoneAccumulation:
		return domain.SignalBuy
	case score >= 80 && zone == domain.ZoneDistribution:
		return domain.SignalSell
	case score >= 60:
		return domain.SignalNeutral
	default:
		return domain.SignalWait
	}
}

// deriveConfidence is a pure function of the resolution path and fit
// quality. Exact matrix data scores highest; a trusted regression sits in
// the middle; everything else is a coarse estimate.
func deriveConfidence(resolution domain.Resolution, lowConfidence bool) float64 {
	switch {
	case resolution == domain.ResolutionMatrix:
		return 0.9
	case resolution == domain.ResolutionRegression && !lowConfidence:
		return 0.7
	default:
		return 0.5
	}
}

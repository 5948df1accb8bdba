// Package coefficient maps a risk value to a multiplicative score
// coefficient via dynamic bidirectional interpolation between band
// midpoints.
package coefficient

import (
	"math"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/internal/modules/timespent"
)

const (
	// CoefficientMin and CoefficientMax bound every result.
	CoefficientMin = 1.0
	CoefficientMax = 1.6

	// midpointEpsilon decides when a risk value sits exactly on a band
	// midpoint, in which case no interpolation happens.
	midpointEpsilon = 1e-9
)

// Calculator interpolates coefficients between band midpoints. It is
// immutable once built; recalculation publishes a new instance.
type Calculator struct {
	midpoints    [timespent.BandCount]float64
	coefficients [timespent.BandCount]float64
}

// New builds a calculator from time-spent bands. Bands missing from the
// input (or an entirely empty input) get the neutral coefficient 1.0, so
// a symbol without history still assesses.
func New(bands []domain.TimeSpentBand) *Calculator {
	c := &Calculator{}
	for i := 0; i < timespent.BandCount; i++ {
		c.midpoints[i] = float64(i)/10 + 0.05
		c.coefficients[i] = CoefficientMin
	}
	for _, band := range bands {
		idx := timespent.BandIndex(band.BandLow + 0.05)
		c.coefficients[idx] = band.Coefficient
	}
	return c
}

// BandCoefficient returns the raw coefficient of the band containing the
// risk value, without interpolation.
func (c *Calculator) BandCoefficient(risk float64) float64 {
	return c.coefficients[timespent.BandIndex(risk)]
}

// ForRisk returns the interpolated coefficient for a risk value.
//
// The interpolation is directional on purpose: a risk value above its
// band midpoint interpolates toward the next band, below it toward the
// previous band. Adjacent bands may have very different rarity, so the
// local slope differs on each side of the midpoint; interpolating this
// way avoids discontinuities at band boundaries. At the first and last
// band, where no neighbor exists on the required side, the band's own
// coefficient applies unchanged.
func (c *Calculator) ForRisk(risk float64) float64 {
	band := timespent.BandIndex(risk)
	midpoint := c.midpoints[band]
	own := c.coefficients[band]
	distance := risk - midpoint

	if math.Abs(distance) < midpointEpsilon {
		return clamp(own)
	}

	neighbor := band + 1
	if distance < 0 {
		neighbor = band - 1
	}
	if neighbor < 0 || neighbor >= timespent.BandCount {
		// No extrapolation beyond the outermost midpoints
		return clamp(own)
	}

	incrementPerUnit := (c.coefficients[neighbor] - own) / (c.midpoints[neighbor] - midpoint)
	return clamp(own + distance*incrementPerUnit)
}

func clamp(v float64) float64 {
	return math.Max(CoefficientMin, math.Min(CoefficientMax, v))
}

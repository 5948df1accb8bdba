package assessment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/internal/modules/timespent"
	"github.com/aristath/riskline/internal/modules/universe"
	"github.com/aristath/riskline/pkg/formulas"
)

const (
	// momentumLookbackDays bounds the history window for the EMA
	// annotation.
	momentumLookbackDays = 30
	momentumEMALength    = 10
)

// Cache is the expiring key-value store backing the read-through
// assessment cache.
type Cache interface {
	GetJSON(key string, dest interface{}) error
	SetJSON(key string, value interface{}, expiresAt int64) error
}

// SnapshotLoader builds a model snapshot from persisted state. The
// recalculation service implements it; the assessment service calls it on
// a store miss so a restart does not require a full recalculation first.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, symbol string) (*ModelSnapshot, error)
}

// HistorySource supplies recent daily risk values for the momentum
// annotation.
type HistorySource interface {
	GetRecent(symbol string, n int) ([]domain.DailyRisk, error)
}

// Quoter supplies the current price for a symbol.
type Quoter interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Service orchestrates a full risk assessment: price resolution, risk
// resolution, zone classification, scoring, and caching.
type Service struct {
	store        *SnapshotStore
	loader       SnapshotLoader
	quoter       Quoter
	cache        Cache
	history      HistorySource
	thresholds   []ZoneThreshold
	cacheTTL     time.Duration
	batchWorkers int
	log          zerolog.Logger

	// lastZones tracks the previously observed zone per symbol so zone
	// transitions can be alerted on.
	lastZones sync.Map
}

// NewService creates an assessment service. thresholds may be nil to use
// the default zone partition.
func NewService(
	store *SnapshotStore,
	loader SnapshotLoader,
	quoter Quoter,
	cache Cache,
	history HistorySource,
	thresholds []ZoneThreshold,
	cacheTTL time.Duration,
	batchWorkers int,
	log zerolog.Logger,
) *Service {
	if thresholds == nil {
		thresholds = DefaultZoneThresholds
	}
	if batchWorkers <= 0 {
		batchWorkers = defaultBatchWorkers
	}
	return &Service{
		store:        store,
		loader:       loader,
		quoter:       quoter,
		cache:        cache,
		history:      history,
		thresholds:   thresholds,
		cacheTTL:     cacheTTL,
		batchWorkers: batchWorkers,
		log:          log.With().Str("service", "assessment").Logger(),
	}
}

// Assess produces a full assessment for a symbol. A nil price resolves
// the current price from the price source. Results are cached per
// (symbol, price rounded to two decimals); a concurrent miss may
// recompute redundantly, which is harmless because assessments are
// deterministic for a given snapshot and price.
func (s *Service) Assess(ctx context.Context, symbol string, price *float64) (*domain.Assessment, error) {
	symbol = universe.Normalize(symbol)

	p, err := s.resolvePrice(ctx, symbol, price)
	if err != nil {
		return nil, err
	}

	cacheKey := assessmentCacheKey(symbol, p)
	if s.cache != nil {
		var cached domain.Assessment
		if err := s.cache.GetJSON(cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	snapshot, err := s.snapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}

	risk, resolution, lowConfidence, err := resolveRisk(snapshot, p)
	if err != nil {
		return nil, err
	}

	zone := classifyZone(s.thresholds, risk)
	base := newScorer(s.thresholds, snapshot.Bands).baseScore(zone, risk)

	coeff := 1.0
	if snapshot.Coefficients != nil {
		coeff = snapshot.Coefficients.ForRisk(risk)
	}

	final := base * coeff
	if final > 100 {
		final = 100
	}

	result := &domain.Assessment{
		Symbol:        symbol,
		Price:         p,
		RiskValue:     risk,
		Band:          timespent.BandIndex(risk),
		Zone:          zone,
		BaseScore:     base,
		Coefficient:   coeff,
		FinalScore:    final,
		Signal:        deriveSignal(final, zone),
		Confidence:    deriveConfidence(resolution, lowConfidence),
		Resolution:    resolution,
		LowConfidence: lowConfidence,
		Momentum:      s.momentum(symbol, risk),
		Timestamp:     time.Now().UTC(),
	}

	s.alertOnZoneChange(symbol, zone, final)

	if s.cache != nil {
		expiresAt := time.Now().Add(s.cacheTTL).Unix()
		if err := s.cache.SetJSON(cacheKey, result, expiresAt); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache assessment")
		}
	}

	return result, nil
}

// resolvePrice returns the caller-supplied price or fetches the current
// one. A caller-supplied non-positive price is a usage error, not a
// transient price source failure.
func (s *Service) resolvePrice(ctx context.Context, symbol string, price *float64) (float64, error) {
	if price != nil {
		if *price <= 0 {
			return 0, domain.ErrConfiguration{Symbol: symbol, Detail: fmt.Sprintf("non-positive price %g", *price)}
		}
		return *price, nil
	}
	return s.quoter.GetCurrentPrice(ctx, symbol)
}

// snapshot returns the published snapshot for a symbol, loading and
// publishing one on a miss.
func (s *Service) snapshot(ctx context.Context, symbol string) (*ModelSnapshot, error) {
	if snap := s.store.Get(symbol); snap != nil {
		return snap, nil
	}

	snap, err := s.loader.LoadSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.store.Publish(symbol, snap)
	return snap, nil
}

// resolveRisk runs the resolution chain: exact matrix interpolation,
// inverse regression, then the logarithmic fallback. The returned tag
// records which path produced the value.
func resolveRisk(snapshot *ModelSnapshot, price float64) (float64, domain.Resolution, bool, error) {
	if snapshot.Matrix != nil {
		if risk, ok := snapshot.Matrix.PriceToRisk(price); ok {
			return risk, domain.ResolutionMatrix, false, nil
		}
	}

	if inverse := snapshot.Inverse; inverse != nil {
		risk := formulas.Clamp(inverse.Evaluate(price), 0, 1)
		// Extrapolating beyond the fitted price range degrades trust.
		low := inverse.LowConfidence() || price < inverse.MinX || price > inverse.MaxX
		return risk, domain.ResolutionRegression, low, nil
	}

	if sym := snapshot.Symbol; sym != nil && sym.HasLogConstants() {
		risk := formulas.LogRisk(price, *sym.LogA, *sym.LogB)
		return risk, domain.ResolutionLogarithmic, true, nil
	}

	symbol := ""
	if snapshot.Symbol != nil {
		symbol = snapshot.Symbol.Symbol
	}
	return 0, "", false, domain.ErrConfiguration{
		Symbol: symbol,
		Detail: "no calibration matrix, regression formula, or logarithmic constants",
	}
}

// momentum returns risk minus the EMA of recent daily risk values, or nil
// when history is unavailable. Purely an annotation; never fails the
// assessment.
func (s *Service) momentum(symbol string, risk float64) *float64 {
	if s.history == nil {
		return nil
	}
	recent, err := s.history.GetRecent(symbol, momentumLookbackDays)
	if err != nil || len(recent) < momentumEMALength {
		return nil
	}

	values := make([]float64, len(recent))
	for i, day := range recent {
		values[i] = day.Risk
	}
	ema := formulas.CalculateEMA(values, momentumEMALength)
	if ema == nil {
		return nil
	}

	m := risk - *ema
	return &m
}

// alertOnZoneChange emits a structured alert when a symbol crosses into a
// different zone. Downstream notifiers consume these log lines.
func (s *Service) alertOnZoneChange(symbol string, zone domain.Zone, score float64) {
	prev, seen := s.lastZones.Load(symbol)
	s.lastZones.Store(symbol, zone)
	if !seen || prev.(domain.Zone) == zone {
		return
	}

	s.log.Warn().
		Str("alert", "zone_transition").
		Str("symbol", symbol).
		Str("from", string(prev.(domain.Zone))).
		Str("to", string(zone)).
		Float64("score", score).
		Msg("Symbol changed market zone")
}

func assessmentCacheKey(symbol string, price float64) string {
	return fmt.Sprintf("assessment:%s:%.2f", symbol, price)
}

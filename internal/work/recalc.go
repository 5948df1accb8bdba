package work

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/internal/modules/assessment"
	"github.com/aristath/riskline/internal/modules/coefficient"
	"github.com/aristath/riskline/internal/modules/matrix"
	"github.com/aristath/riskline/internal/modules/regression"
	"github.com/aristath/riskline/internal/modules/timespent"
	"github.com/aristath/riskline/internal/modules/universe"
)

// CalibrationSource fetches the calibration matrix for a symbol from the
// calibration authority.
type CalibrationSource interface {
	FetchMatrix(ctx context.Context, symbol string) ([]domain.RiskLevel, error)
}

// RecalcService rebuilds all derived models of a symbol from persisted
// inputs and publishes the result as an immutable snapshot. Any failure
// along the way leaves the previously published snapshot in effect.
type RecalcService struct {
	symbols        *universe.SymbolRepository
	matrixRepo     *matrix.Repository
	regressionRepo *regression.Repository
	fitter         *regression.Fitter
	historyRepo    *timespent.HistoryRepository
	bandsRepo      *timespent.Repository
	analyzer       *timespent.Analyzer
	store          *assessment.SnapshotStore
	cache          *Cache
	calibration    CalibrationSource // Optional; nil disables ingest
	log            zerolog.Logger
}

// NewRecalcService wires the recalculation pipeline.
func NewRecalcService(
	symbols *universe.SymbolRepository,
	matrixRepo *matrix.Repository,
	regressionRepo *regression.Repository,
	fitter *regression.Fitter,
	historyRepo *timespent.HistoryRepository,
	bandsRepo *timespent.Repository,
	analyzer *timespent.Analyzer,
	store *assessment.SnapshotStore,
	cache *Cache,
	calibration CalibrationSource,
	log zerolog.Logger,
) *RecalcService {
	return &RecalcService{
		symbols:        symbols,
		matrixRepo:     matrixRepo,
		regressionRepo: regressionRepo,
		fitter:         fitter,
		historyRepo:    historyRepo,
		bandsRepo:      bandsRepo,
		analyzer:       analyzer,
		store:          store,
		cache:          cache,
		calibration:    calibration,
		log:            log.With().Str("service", "recalc").Logger(),
	}
}

// Recalculate rebuilds and publishes the snapshot for one symbol:
// validate the calibration matrix, refit both regression directions,
// rebuild the time-spent bands, then swap the snapshot in. Derived state
// is persisted along the way so a restart can reload without refitting.
func (s *RecalcService) Recalculate(ctx context.Context, symbol string) error {
	symbol = universe.Normalize(symbol)
	started := time.Now()

	sym, err := s.symbols.GetBySymbol(symbol)
	if err != nil {
		return err
	}
	if sym == nil {
		return domain.ErrConfiguration{Symbol: symbol, Detail: "unknown symbol"}
	}

	// A calibration mismatch aborts here, before anything is persisted
	// or published.
	m, err := s.matrixRepo.LoadMatrix(symbol)
	if err != nil {
		return err
	}

	var standard, inverse *domain.RegressionFormula
	if m != nil {
		standard, inverse, err = s.fitter.Fit(symbol, m.Points(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("regression fit for %s failed: %w", symbol, err)
		}
		if err := s.regressionRepo.SaveBoth(standard, inverse); err != nil {
			return fmt.Errorf("failed to persist regression formulas for %s: %w", symbol, err)
		}
		if inverse.LowConfidence() {
			s.log.Warn().Str("symbol", symbol).Float64("r_squared", inverse.RSquared).
				Msg("Inverse regression fit below confidence threshold")
		}
	}

	history, err := s.historyRepo.GetDailyRiskHistory(symbol)
	if err != nil {
		return fmt.Errorf("failed to load risk history for %s: %w", symbol, err)
	}

	bands := s.analyzer.Analyze(sym, history, time.Now().UTC())
	if len(bands) > 0 {
		if err := s.bandsRepo.ReplaceForSymbol(symbol, bands); err != nil {
			return fmt.Errorf("failed to persist time spent bands for %s: %w", symbol, err)
		}
	}

	s.publish(symbol, &assessment.ModelSnapshot{
		Symbol:       sym,
		Matrix:       m,
		Standard:     standard,
		Inverse:      inverse,
		Bands:        bands,
		Coefficients: coefficient.New(bands),
		BuiltAt:      time.Now().UTC(),
	})

	s.log.Info().
		Str("symbol", symbol).
		Bool("has_matrix", m != nil).
		Int("history_days", len(history)).
		Dur("took", time.Since(started)).
		Msg("Recalculation complete")
	return nil
}

// RecalculateAll rebuilds every active symbol. Failures are isolated:
// one bad symbol never blocks the rest.
func (s *RecalcService) RecalculateAll(ctx context.Context) error {
	symbols, err := s.symbols.GetAllActive()
	if err != nil {
		return fmt.Errorf("failed to list active symbols: %w", err)
	}

	failures := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.Recalculate(ctx, sym.Symbol); err != nil {
			failures++
			s.log.Error().Err(err).Str("symbol", sym.Symbol).Msg("Recalculation failed, prior snapshot kept")
		}
	}

	if failures > 0 {
		return fmt.Errorf("recalculation failed for %d of %d symbols", failures, len(symbols))
	}
	return nil
}

// IngestCalibration replaces a symbol's calibration matrix from the
// calibration authority and recalculates. The replacement is validated
// before any write, so a bad feed cannot clobber a good matrix.
func (s *RecalcService) IngestCalibration(ctx context.Context, symbol string) error {
	if s.calibration == nil {
		return domain.ErrConfiguration{Symbol: symbol, Detail: "no calibration source configured"}
	}
	symbol = universe.Normalize(symbol)

	levels, err := s.calibration.FetchMatrix(ctx, symbol)
	if err != nil {
		return fmt.Errorf("calibration fetch for %s failed: %w", symbol, err)
	}
	if err := s.matrixRepo.ReplaceForSymbol(symbol, levels); err != nil {
		return err
	}

	return s.Recalculate(ctx, symbol)
}

// LoadSnapshot rebuilds a snapshot from persisted state without
// refitting. The assessment service calls this on a store miss, which
// keeps restarts cheap.
func (s *RecalcService) LoadSnapshot(ctx context.Context, symbol string) (*assessment.ModelSnapshot, error) {
	symbol = universe.Normalize(symbol)

	sym, err := s.symbols.GetBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if sym == nil {
		return nil, domain.ErrConfiguration{Symbol: symbol, Detail: "unknown symbol"}
	}

	m, err := s.matrixRepo.LoadMatrix(symbol)
	if err != nil {
		return nil, err
	}

	standard, inverse, err := s.regressionRepo.GetBoth(symbol)
	if err != nil {
		return nil, err
	}

	bands, err := s.bandsRepo.GetForSymbol(symbol)
	if err != nil {
		return nil, err
	}

	return &assessment.ModelSnapshot{
		Symbol:       sym,
		Matrix:       m,
		Standard:     standard,
		Inverse:      inverse,
		Bands:        bands,
		Coefficients: coefficient.New(bands),
		BuiltAt:      time.Now().UTC(),
	}, nil
}

// publish swaps the snapshot in and invalidates the symbol's cached
// assessments, which were computed against the old models.
func (s *RecalcService) publish(symbol string, snapshot *assessment.ModelSnapshot) {
	s.store.Publish(symbol, snapshot)
	if s.cache != nil {
		if err := s.cache.DeleteByPrefix("assessment:" + symbol + ":"); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to invalidate cached assessments")
		}
	}
}

package work

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/internal/modules/timespent"
	"github.com/aristath/riskline/internal/modules/universe"
)

// Assessor produces a risk assessment at the current price.
type Assessor interface {
	Assess(ctx context.Context, symbol string, price *float64) (*domain.Assessment, error)
}

// HistoryRecorder appends each active symbol's current risk value to the
// daily history. The history feeds the time-spent analysis, so every
// recorded day sharpens the rarity profile at the next recalculation.
type HistoryRecorder struct {
	symbols  *universe.SymbolRepository
	history  *timespent.HistoryRepository
	assessor Assessor
	log      zerolog.Logger
}

// NewHistoryRecorder creates the daily risk history recorder.
func NewHistoryRecorder(
	symbols *universe.SymbolRepository,
	history *timespent.HistoryRepository,
	assessor Assessor,
	log zerolog.Logger,
) *HistoryRecorder {
	return &HistoryRecorder{
		symbols:  symbols,
		history:  history,
		assessor: assessor,
		log:      log.With().Str("service", "history_recorder").Logger(),
	}
}

// RecordToday assesses every active symbol at the current price and
// upserts the resulting risk value under today's date. Idempotent within
// a day: a rerun overwrites the same row.
func (r *HistoryRecorder) RecordToday(ctx context.Context) error {
	symbols, err := r.symbols.GetAllActive()
	if err != nil {
		return fmt.Errorf("failed to list active symbols: %w", err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	failed := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := r.assessor.Assess(ctx, sym.Symbol, nil)
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", sym.Symbol).Msg("Skipping history record")
			failed++
			continue
		}

		day := domain.DailyRisk{Date: today, Risk: result.RiskValue}
		if err := r.history.Upsert(sym.Symbol, []domain.DailyRisk{day}); err != nil {
			r.log.Error().Err(err).Str("symbol", sym.Symbol).Msg("Failed to record daily risk")
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("history recording failed for %d of %d symbols", failed, len(symbols))
	}

	r.log.Info().Int("symbols", len(symbols)).Msg("Daily risk history recorded")
	return nil
}

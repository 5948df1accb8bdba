package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/domain"
	"github.com/aristath/riskline/pkg/formulas"
)

// Recalculator rebuilds a symbol's risk models after its inputs change.
type Recalculator interface {
	Recalculate(ctx context.Context, symbol string) error
}

// BoundsService is the only entry point for mutating a symbol's price
// bounds. Every accepted mutation appends exactly one ManualOverride row
// per changed field before the bounds are written, then triggers a full
// recalculation for the symbol.
type BoundsService struct {
	symbols   *SymbolRepository
	overrides *OverrideRepository
	recalc    Recalculator
	log       zerolog.Logger
}

// NewBoundsService creates a new bounds service.
func NewBoundsService(
	symbols *SymbolRepository,
	overrides *OverrideRepository,
	recalc Recalculator,
	log zerolog.Logger,
) *BoundsService {
	return &BoundsService{
		symbols:   symbols,
		overrides: overrides,
		recalc:    recalc,
		log:       log.With().Str("service", "bounds").Logger(),
	}
}

// UpdateBounds applies a manual bounds override. Nil means "leave this
// bound unchanged"; at least one bound and a non-empty reason are
// required.
func (s *BoundsService) UpdateBounds(ctx context.Context, symbol string, minPrice, maxPrice *float64, reason, actor string) error {
	if minPrice == nil && maxPrice == nil {
		return fmt.Errorf("at least one bound must be provided")
	}
	if reason == "" {
		return fmt.Errorf("a reason is required for a bounds override")
	}

	sym, err := s.symbols.GetBySymbol(symbol)
	if err != nil {
		return err
	}
	if sym == nil {
		return domain.ErrConfiguration{Symbol: symbol, Detail: "symbol not found"}
	}

	newMin := sym.MinPrice
	newMax := sym.MaxPrice
	now := time.Now().UTC()

	var overrides []domain.ManualOverride
	if minPrice != nil && *minPrice != sym.MinPrice {
		overrides = append(overrides, domain.ManualOverride{
			Symbol:        sym.Symbol,
			Field:         domain.OverrideMinPrice,
			PreviousValue: sym.MinPrice,
			NewValue:      *minPrice,
			Reason:        reason,
			Actor:         actor,
			CreatedAt:     now,
		})
		newMin = *minPrice
	}
	if maxPrice != nil && *maxPrice != sym.MaxPrice {
		overrides = append(overrides, domain.ManualOverride{
			Symbol:        sym.Symbol,
			Field:         domain.OverrideMaxPrice,
			PreviousValue: sym.MaxPrice,
			NewValue:      *maxPrice,
			Reason:        reason,
			Actor:         actor,
			CreatedAt:     now,
		})
		newMax = *maxPrice
	}

	if len(overrides) == 0 {
		s.log.Debug().Str("symbol", sym.Symbol).Msg("Bounds override is a no-op")
		return nil
	}

	if newMin <= 0 || newMax <= newMin {
		return domain.ErrConfiguration{
			Symbol: sym.Symbol,
			Detail: fmt.Sprintf("invalid bounds: min=%g max=%g", newMin, newMax),
		}
	}

	// Audit rows go in first: bounds are never edited without a
	// corresponding override on record.
	if err := s.overrides.Append(overrides); err != nil {
		return fmt.Errorf("failed to record override: %w", err)
	}
	if err := s.symbols.UpdateBounds(sym.Symbol, newMin, newMax); err != nil {
		return err
	}

	s.log.Info().
		Str("symbol", sym.Symbol).
		Float64("min_price", newMin).
		Float64("max_price", newMax).
		Str("actor", actor).
		Msg("Bounds overridden")

	if err := s.recalc.Recalculate(ctx, sym.Symbol); err != nil {
		// Bounds and audit trail are already committed; the previous
		// snapshot stays in effect until a later recalculation succeeds.
		s.log.Error().Err(err).Str("symbol", sym.Symbol).Msg("Recalculation after bounds override failed")
		return fmt.Errorf("bounds updated but recalculation failed: %w", err)
	}

	return nil
}

// SetLogConstants refits the logarithmic fallback constants from two
// reference prices (historical cycle floor and peak) and stores them on
// the symbol. This is the only way log constants change.
func (s *BoundsService) SetLogConstants(ctx context.Context, symbol string, floorPrice, peakPrice float64) error {
	sym, err := s.symbols.GetBySymbol(symbol)
	if err != nil {
		return err
	}
	if sym == nil {
		return domain.ErrConfiguration{Symbol: symbol, Detail: "symbol not found"}
	}

	a, b, err := formulas.FitLogConstants(floorPrice, peakPrice)
	if err != nil {
		return domain.ErrConfiguration{Symbol: sym.Symbol, Detail: err.Error()}
	}

	if err := s.symbols.UpdateLogConstants(sym.Symbol, a, b); err != nil {
		return err
	}

	s.log.Info().
		Str("symbol", sym.Symbol).
		Float64("log_a", a).
		Float64("log_b", b).
		Msg("Logarithmic fallback refitted")

	if err := s.recalc.Recalculate(ctx, sym.Symbol); err != nil {
		s.log.Error().Err(err).Str("symbol", sym.Symbol).Msg("Recalculation after log refit failed")
		return fmt.Errorf("log constants updated but recalculation failed: %w", err)
	}
	return nil
}

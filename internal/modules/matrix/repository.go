package matrix

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/database"
	"github.com/aristath/riskline/internal/domain"
)

// Repository handles risk level persistence in universe.db.
type Repository struct {
	universeDB *sql.DB
	log        zerolog.Logger
}

// NewRepository creates a new risk level repository.
func NewRepository(universeDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		universeDB: universeDB,
		log:        log.With().Str("repo", "risk_levels").Logger(),
	}
}

// GetForSymbol returns all calibration points for a symbol, ordered by
// risk value.
func (r *Repository) GetForSymbol(symbol string) ([]domain.RiskLevel, error) {
	rows, err := r.universeDB.Query(
		"SELECT symbol, risk_value, price FROM risk_levels WHERE symbol = ? ORDER BY risk_value",
		symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk levels: %w", err)
	}
	defer rows.Close()

	var levels []domain.RiskLevel
	for rows.Next() {
		var level domain.RiskLevel
		if err := rows.Scan(&level.Symbol, &level.RiskValue, &level.Price); err != nil {
			return nil, fmt.Errorf("failed to scan risk level: %w", err)
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk levels: %w", err)
	}

	return levels, nil
}

// ReplaceForSymbol atomically replaces the full calibration matrix of a
// symbol. The calibration authority is replace-only input: partial updates
// are never applied. The incoming set is validated before any write.
func (r *Repository) ReplaceForSymbol(symbol string, levels []domain.RiskLevel) error {
	if err := New(symbol, levels).Validate(); err != nil {
		return err
	}

	err := database.WithTransaction(r.universeDB, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM risk_levels WHERE symbol = ?", symbol); err != nil {
			return fmt.Errorf("failed to clear risk levels: %w", err)
		}

		stmt, err := tx.Prepare("INSERT INTO risk_levels (symbol, risk_value, price) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, level := range levels {
			if _, err := stmt.Exec(symbol, level.RiskValue, level.Price); err != nil {
				return fmt.Errorf("failed to insert risk level %g: %w", level.RiskValue, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("symbol", symbol).Int("points", len(levels)).Msg("Calibration matrix replaced")
	return nil
}

// LoadMatrix builds a validated matrix from the stored calibration points.
// Returns nil (no error) when the symbol has no calibration data, so
// callers can fall through to the regression model.
func (r *Repository) LoadMatrix(symbol string) (*Matrix, error) {
	levels, err := r.GetForSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, nil
	}

	m := New(symbol, levels)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

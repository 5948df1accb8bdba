package timespent

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/database"
	"github.com/aristath/riskline/internal/domain"
)

// Repository persists derived time-spent bands in history.db. The table
// is derived data: it is dropped and rebuilt per symbol on every
// recalculation.
type Repository struct {
	historyDB *sql.DB
	log       zerolog.Logger
}

// NewRepository creates a new time-spent band repository.
func NewRepository(historyDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "time_spent_bands").Logger(),
	}
}

// ReplaceForSymbol atomically replaces all bands for a symbol.
func (r *Repository) ReplaceForSymbol(symbol string, bands []domain.TimeSpentBand) error {
	return database.WithTransaction(r.historyDB, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM time_spent_bands WHERE symbol = ?", symbol); err != nil {
			return fmt.Errorf("failed to clear time spent bands: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO time_spent_bands (symbol, band_low, band_high, days_spent, percentage_of_life, entry_count, avg_duration_days, coefficient, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, band := range bands {
			_, err := stmt.Exec(symbol, band.BandLow, band.BandHigh, band.DaysSpent,
				band.PercentageOfLife, band.EntryCount, band.AvgDurationDays,
				band.Coefficient, band.ComputedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to insert band [%g, %g): %w", band.BandLow, band.BandHigh, err)
			}
		}
		return nil
	})
}

// GetForSymbol returns the stored bands for a symbol ordered by band_low.
func (r *Repository) GetForSymbol(symbol string) ([]domain.TimeSpentBand, error) {
	rows, err := r.historyDB.Query(`
		SELECT symbol, band_low, band_high, days_spent, percentage_of_life, entry_count, avg_duration_days, coefficient, computed_at
		FROM time_spent_bands
		WHERE symbol = ?
		ORDER BY band_low
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query time spent bands: %w", err)
	}
	defer rows.Close()

	var bands []domain.TimeSpentBand
	for rows.Next() {
		var band domain.TimeSpentBand
		var computedAt int64
		err := rows.Scan(&band.Symbol, &band.BandLow, &band.BandHigh, &band.DaysSpent,
			&band.PercentageOfLife, &band.EntryCount, &band.AvgDurationDays,
			&band.Coefficient, &computedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time spent band: %w", err)
		}
		band.ComputedAt = time.Unix(computedAt, 0).UTC()
		bands = append(bands, band)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating time spent bands: %w", err)
	}

	return bands, nil
}

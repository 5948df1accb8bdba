package timespent

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/database"
	"github.com/aristath/riskline/internal/domain"
)

// HistoryRepository stores ingested daily risk history in history.db.
// Only the recalculation path reads it; the assessment read path never
// touches raw history.
type HistoryRepository struct {
	historyDB *sql.DB
	log       zerolog.Logger
}

// NewHistoryRepository creates a new risk history repository.
func NewHistoryRepository(historyDB *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "risk_history").Logger(),
	}
}

// Upsert ingests daily risk observations. Re-ingesting a day overwrites
// the previous value.
func (r *HistoryRepository) Upsert(symbol string, days []domain.DailyRisk) error {
	return database.WithTransaction(r.historyDB, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO risk_history (symbol, date, risk_value)
			VALUES (?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET risk_value = excluded.risk_value
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, day := range days {
			date := day.Date.UTC().Truncate(24 * time.Hour)
			if _, err := stmt.Exec(symbol, date.Unix(), day.Risk); err != nil {
				return fmt.Errorf("failed to upsert risk history for %s: %w", date.Format("2006-01-02"), err)
			}
		}
		return nil
	})
}

// GetDailyRiskHistory returns the full history for a symbol in date order.
func (r *HistoryRepository) GetDailyRiskHistory(symbol string) ([]domain.DailyRisk, error) {
	rows, err := r.historyDB.Query(
		"SELECT date, risk_value FROM risk_history WHERE symbol = ? ORDER BY date",
		symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk history: %w", err)
	}
	defer rows.Close()

	var history []domain.DailyRisk
	for rows.Next() {
		var day domain.DailyRisk
		var date int64
		if err := rows.Scan(&date, &day.Risk); err != nil {
			return nil, fmt.Errorf("failed to scan risk history row: %w", err)
		}
		day.Date = time.Unix(date, 0).UTC()
		history = append(history, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk history: %w", err)
	}

	return history, nil
}

// GetRecent returns the most recent n days of history, oldest first.
func (r *HistoryRepository) GetRecent(symbol string, n int) ([]domain.DailyRisk, error) {
	rows, err := r.historyDB.Query(`
		SELECT date, risk_value FROM (
			SELECT date, risk_value FROM risk_history WHERE symbol = ? ORDER BY date DESC LIMIT ?
		) ORDER BY date
	`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent risk history: %w", err)
	}
	defer rows.Close()

	var history []domain.DailyRisk
	for rows.Next() {
		var day domain.DailyRisk
		var date int64
		if err := rows.Scan(&date, &day.Risk); err != nil {
			return nil, fmt.Errorf("failed to scan risk history row: %w", err)
		}
		day.Date = time.Unix(date, 0).UTC()
		history = append(history, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk history: %w", err)
	}

	return history, nil
}

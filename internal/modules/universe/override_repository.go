package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/database"
	"github.com/aristath/riskline/internal/domain"
)

// OverrideRepository appends manual override rows to ledger.db. The table
// is append-only: no update or delete paths exist.
type OverrideRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewOverrideRepository creates a new manual override repository.
func NewOverrideRepository(ledgerDB *sql.DB, log zerolog.Logger) *OverrideRepository {
	return &OverrideRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "manual_overrides").Logger(),
	}
}

// Append writes one override row per changed field, all in one
// transaction. IDs are assigned here.
func (r *OverrideRepository) Append(overrides []domain.ManualOverride) error {
	if len(overrides) == 0 {
		return nil
	}

	return database.WithTransaction(r.ledgerDB, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO manual_overrides (id, symbol, field, previous_value, new_value, reason, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, o := range overrides {
			id := o.ID
			if id == "" {
				id = uuid.New().String()
			}
			_, err := stmt.Exec(id, Normalize(o.Symbol), string(o.Field),
				o.PreviousValue, o.NewValue, o.Reason, o.Actor, o.CreatedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to append override for %s: %w", o.Field, err)
			}
		}
		return nil
	})
}

// GetForSymbol returns the override history for a symbol, newest first.
func (r *OverrideRepository) GetForSymbol(symbol string) ([]domain.ManualOverride, error) {
	rows, err := r.ledgerDB.Query(`
		SELECT id, symbol, field, previous_value, new_value, reason, actor, created_at
		FROM manual_overrides
		WHERE symbol = ?
		ORDER BY created_at DESC, id
	`, Normalize(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []domain.ManualOverride
	for rows.Next() {
		var o domain.ManualOverride
		var field string
		var createdAt int64
		err := rows.Scan(&o.ID, &o.Symbol, &field, &o.PreviousValue, &o.NewValue,
			&o.Reason, &o.Actor, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		o.Field = domain.OverrideField(field)
		o.CreatedAt = time.Unix(createdAt, 0).UTC()
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overrides: %w", err)
	}

	return overrides, nil
}

package regression

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/riskline/internal/database"
	"github.com/aristath/riskline/internal/domain"
)

// Repository persists regression formulas in universe.db. Coefficient
// vectors are stored as msgpack blobs.
type Repository struct {
	universeDB *sql.DB
	log        zerolog.Logger
}

// NewRepository creates a new regression formula repository.
func NewRepository(universeDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		universeDB: universeDB,
		log:        log.With().Str("repo", "regression_formulas").Logger(),
	}
}

// SaveBoth stores the standard and inverse formulas for a symbol in one
// transaction, replacing any previous fit.
func (r *Repository) SaveBoth(standard, inverse *domain.RegressionFormula) error {
	if standard == nil || inverse == nil {
		return fmt.Errorf("both formulas are required")
	}
	if standard.Symbol != inverse.Symbol {
		return fmt.Errorf("formula symbol mismatch: %s vs %s", standard.Symbol, inverse.Symbol)
	}

	return database.WithTransaction(r.universeDB, func(tx *sql.Tx) error {
		for _, formula := range []*domain.RegressionFormula{standard, inverse} {
			blob, err := msgpack.Marshal(formula.Coefficients)
			if err != nil {
				return fmt.Errorf("failed to encode coefficients: %w", err)
			}

			_, err = tx.Exec(`
				INSERT INTO regression_formulas (symbol, formula_type, degree, coefficients, r_squared, min_x, max_x, fitted_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(symbol, formula_type) DO UPDATE SET
					degree = excluded.degree,
					coefficients = excluded.coefficients,
					r_squared = excluded.r_squared,
					min_x = excluded.min_x,
					max_x = excluded.max_x,
					fitted_at = excluded.fitted_at
			`, formula.Symbol, string(formula.Type), formula.Degree, blob,
				formula.RSquared, formula.MinX, formula.MaxX, formula.FittedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to upsert %s formula: %w", formula.Type, err)
			}
		}
		return nil
	})
}

// Get returns the formula of the given type for a symbol, or nil when no
// fit has been stored yet.
func (r *Repository) Get(symbol string, formulaType domain.FormulaType) (*domain.RegressionFormula, error) {
	row := r.universeDB.QueryRow(`
		SELECT symbol, formula_type, degree, coefficients, r_squared, min_x, max_x, fitted_at
		FROM regression_formulas
		WHERE symbol = ? AND formula_type = ?
	`, symbol, string(formulaType))

	var (
		formula  domain.RegressionFormula
		ftype    string
		blob     []byte
		fittedAt int64
	)
	err := row.Scan(&formula.Symbol, &ftype, &formula.Degree, &blob,
		&formula.RSquared, &formula.MinX, &formula.MaxX, &fittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan regression formula: %w", err)
	}

	if err := msgpack.Unmarshal(blob, &formula.Coefficients); err != nil {
		return nil, fmt.Errorf("failed to decode coefficients: %w", err)
	}
	formula.Type = domain.FormulaType(ftype)
	formula.FittedAt = time.Unix(fittedAt, 0).UTC()

	return &formula, nil
}

// GetBoth returns the standard and inverse formulas for a symbol. Either
// may be nil when missing.
func (r *Repository) GetBoth(symbol string) (standard, inverse *domain.RegressionFormula, err error) {
	standard, err = r.Get(symbol, domain.FormulaStandard)
	if err != nil {
		return nil, nil, err
	}
	inverse, err = r.Get(symbol, domain.FormulaInverse)
	if err != nil {
		return nil, nil, err
	}
	return standard, inverse, nil
}

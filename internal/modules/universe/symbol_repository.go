// Package universe manages the tracked symbols, their calibrated bounds,
// and the audited manual override trail.
package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/domain"
)

// SymbolRepository handles symbol persistence in universe.db.
type SymbolRepository struct {
	universeDB *sql.DB
	log        zerolog.Logger
}

// NewSymbolRepository creates a new symbol repository.
func NewSymbolRepository(universeDB *sql.DB, log zerolog.Logger) *SymbolRepository {
	return &SymbolRepository{
		universeDB: universeDB,
		log:        log.With().Str("repo", "symbols").Logger(),
	}
}

// Normalize canonicalizes a symbol identifier.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// GetBySymbol returns a symbol, or nil when not found.
func (r *SymbolRepository) GetBySymbol(symbol string) (*domain.Symbol, error) {
	row := r.universeDB.QueryRow(`
		SELECT symbol, name, min_price, max_price, log_a, log_b, inception_date, active, created_at, updated_at
		FROM symbols WHERE symbol = ?
	`, Normalize(symbol))

	sym, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan symbol: %w", err)
	}
	return sym, nil
}

// GetAllActive returns all active symbols.
func (r *SymbolRepository) GetAllActive() ([]domain.Symbol, error) {
	rows, err := r.universeDB.Query(`
		SELECT symbol, name, min_price, max_price, log_a, log_b, inception_date, active, created_at, updated_at
		FROM symbols WHERE active = 1 ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []domain.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, *sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}

	return symbols, nil
}

// Create onboards a new symbol. Bounds must already be valid; later
// mutations go through the bounds service only.
func (r *SymbolRepository) Create(sym *domain.Symbol) error {
	if sym.MinPrice <= 0 || sym.MaxPrice <= sym.MinPrice {
		return domain.ErrConfiguration{
			Symbol: sym.Symbol,
			Detail: fmt.Sprintf("invalid bounds: min=%g max=%g", sym.MinPrice, sym.MaxPrice),
		}
	}

	now := time.Now().UTC()
	_, err := r.universeDB.Exec(`
		INSERT INTO symbols (symbol, name, min_price, max_price, log_a, log_b, inception_date, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, Normalize(sym.Symbol), sym.Name, sym.MinPrice, sym.MaxPrice, sym.LogA, sym.LogB,
		sym.InceptionDate.Unix(), boolToInt(sym.Active), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert symbol: %w", err)
	}

	r.log.Info().Str("symbol", sym.Symbol).Msg("Symbol onboarded")
	return nil
}

// UpdateBounds writes new price bounds. Only the bounds service calls
// this, after appending the matching override rows.
func (r *SymbolRepository) UpdateBounds(symbol string, minPrice, maxPrice float64) error {
	result, err := r.universeDB.Exec(`
		UPDATE symbols SET min_price = ?, max_price = ?, updated_at = ? WHERE symbol = ?
	`, minPrice, maxPrice, time.Now().UTC().Unix(), Normalize(symbol))
	if err != nil {
		return fmt.Errorf("failed to update bounds: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrConfiguration{Symbol: symbol, Detail: "symbol not found"}
	}
	return nil
}

// UpdateLogConstants stores the logarithmic fallback constants. Explicit
// manual operation only; never recomputed implicitly.
func (r *SymbolRepository) UpdateLogConstants(symbol string, a, b float64) error {
	result, err := r.universeDB.Exec(`
		UPDATE symbols SET log_a = ?, log_b = ?, updated_at = ? WHERE symbol = ?
	`, a, b, time.Now().UTC().Unix(), Normalize(symbol))
	if err != nil {
		return fmt.Errorf("failed to update log constants: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrConfiguration{Symbol: symbol, Detail: "symbol not found"}
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSymbol(row scanner) (*domain.Symbol, error) {
	var (
		sym        domain.Symbol
		logA, logB sql.NullFloat64
		inception  int64
		active     int
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&sym.Symbol, &sym.Name, &sym.MinPrice, &sym.MaxPrice,
		&logA, &logB, &inception, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if logA.Valid {
		sym.LogA = &logA.Float64
	}
	if logB.Valid {
		sym.LogB = &logB.Float64
	}
	sym.InceptionDate = time.Unix(inception, 0).UTC()
	sym.Active = active == 1
	sym.CreatedAt = time.Unix(createdAt, 0).UTC()
	sym.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &sym, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

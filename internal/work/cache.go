// Package work contains the engine's write path: the recalculation
// service that rebuilds per-symbol models, and the expiring cache that
// backs the assessment read path.
package work

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Cache is a key-value store with per-entry expiration, backed by
// cache.db. Contents are disposable: wiping the table only costs warm-up
// recomputation.
type Cache struct {
	db *sql.DB
}

// NewCache creates a cache on the given database handle.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// SetJSON stores a value as JSON with an absolute expiration timestamp.
func (c *Cache) SetJSON(key string, value interface{}, expiresAt int64) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(`
		INSERT INTO cache (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`, key, string(jsonData), expiresAt)
	return err
}

// GetJSON retrieves a JSON value and unmarshals it into dest. Returns
// sql.ErrNoRows when the key is missing or expired.
func (c *Cache) GetJSON(key string, dest interface{}) error {
	var value string
	var expiresAt int64
	err := c.db.QueryRow("SELECT value, expires_at FROM cache WHERE key = ?", key).Scan(&value, &expiresAt)
	if err != nil {
		return err
	}

	if time.Now().Unix() >= expiresAt {
		return sql.ErrNoRows
	}

	return json.Unmarshal([]byte(value), dest)
}

// Delete removes a cache entry.
func (c *Cache) Delete(key string) error {
	_, err := c.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

// DeleteByPrefix removes all entries matching a prefix. Recalculation
// uses this to invalidate every cached assessment of a symbol at once.
func (c *Cache) DeleteByPrefix(prefix string) error {
	_, err := c.db.Exec("DELETE FROM cache WHERE key LIKE ?", prefix+"%")
	return err
}

// Prune deletes expired entries and reports how many were removed.
func (c *Cache) Prune() (int64, error) {
	result, err := c.db.Exec("DELETE FROM cache WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package store

import (
	"database/sql"
	"time"
)

// SetMeta upserts an engine metadata value (engine configuration that must
// survive restarts, e.g. per-collection conflict strategies).
func (db *DB) SetMeta(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return storageErr("meta_set", "metadata", err)
}

// GetMeta retrieves a metadata value. Returns ("", nil) when the key is absent.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storageErr("meta_get", "metadata", err)
	}
	return value, nil
}

// SetStrategy persists the conflict strategy for a collection.
func (db *DB) SetStrategy(collection, strategy string) error {
	return db.SetMeta("conflict_strategy_"+collection, strategy)
}

// GetStrategy returns the persisted conflict strategy for a collection,
// or "" when none has been configured.
func (db *DB) GetStrategy(collection string) (string, error) {
	return db.GetMeta("conflict_strategy_" + collection)
}

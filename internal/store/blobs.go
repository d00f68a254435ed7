package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveBlob stores or replaces an opaque blob under a version-tagged key.
// Callers own the key naming; format changes get a new version suffix so
// old data is skipped rather than misread.
func (db *DB) SaveBlob(key string, value []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO kv_blobs (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, key, value, now, value, now)
	if err != nil {
		return fmt.Errorf("save blob %s: %w", key, err)
	}
	return nil
}

// LoadBlob returns the blob stored under key, or nil if absent.
func (db *DB) LoadBlob(key string) ([]byte, error) {
	var value []byte
	err := db.QueryRow("SELECT value FROM kv_blobs WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load blob %s: %w", key, err)
	}
	return value, nil
}

// DeleteBlob removes the blob stored under key.
func (db *DB) DeleteBlob(key string) error {
	_, err := db.Exec("DELETE FROM kv_blobs WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

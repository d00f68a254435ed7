package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// JournalEntry is one journal entry as the engine sees it. The symbol set
// and embedding are optional derived attributes; entry identity (id, text,
// created_at) is never mutated after insert.
type JournalEntry struct {
	ID        string
	CreatedAt int64 // unix millis
	Text      string
	Symbols   []string  // optional, nil until extracted
	Embedding []float64 // optional, nil until embedded
	Model     string    // embedding model tag, "" until embedded
	UpdatedAt int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// UpsertEntry inserts or replaces a journal entry. A missing id is assigned
// a fresh UUID and a missing created_at defaults to now. The (possibly
// updated) entry is written back to the caller.
func (db *DB) UpsertEntry(entry *JournalEntry) error {
	now := time.Now().UnixMilli()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}

	var symbolsJSON any
	if entry.Symbols != nil {
		data, err := json.Marshal(entry.Symbols)
		if err != nil {
			return fmt.Errorf("marshal symbols: %w", err)
		}
		symbolsJSON = string(data)
	}

	var blob any
	if entry.Embedding != nil {
		blob = encodeEmbedding(entry.Embedding)
	}

	_, err := db.Exec(`
		INSERT INTO journal_entries (id, created_at, text, symbols, embedding, model, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(id) DO UPDATE SET text = ?, symbols = ?, embedding = ?, model = NULLIF(?, ''), updated_at = ?
	`, entry.ID, entry.CreatedAt, entry.Text, symbolsJSON, blob, entry.Model, now,
		entry.Text, symbolsJSON, blob, entry.Model, now)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	entry.UpdatedAt = now
	return nil
}

// GetEntry returns the entry with the given id, or nil if not found.
func (db *DB) GetEntry(id string) (*JournalEntry, error) {
	row := db.QueryRow(`
		SELECT id, created_at, text, symbols, embedding, model, updated_at
		FROM journal_entries WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// AllEntries returns every journal entry, newest first.
func (db *DB) AllEntries() ([]JournalEntry, error) {
	return db.queryEntries(`
		SELECT id, created_at, text, symbols, embedding, model, updated_at
		FROM journal_entries ORDER BY created_at DESC
	`)
}

// EntriesSince returns entries created at or after the given unix-milli
// timestamp, newest first.
func (db *DB) EntriesSince(sinceMillis int64) ([]JournalEntry, error) {
	return db.queryEntries(`
		SELECT id, created_at, text, symbols, embedding, model, updated_at
		FROM journal_entries WHERE created_at >= ? ORDER BY created_at DESC
	`, sinceMillis)
}

// EntriesMissingEmbedding returns entries with no stored vector, or whose
// vector was produced by a different model.
func (db *DB) EntriesMissingEmbedding(model string) ([]JournalEntry, error) {
	return db.queryEntries(`
		SELECT id, created_at, text, symbols, embedding, model, updated_at
		FROM journal_entries WHERE embedding IS NULL OR model IS NULL OR model != ?
		ORDER BY created_at DESC
	`, model)
}

// SaveEmbedding stores or replaces the embedding for an entry.
func (db *DB) SaveEmbedding(id string, vec []float64, model string) error {
	res, err := db.Exec(`
		UPDATE journal_entries SET embedding = ?, model = ?, updated_at = ? WHERE id = ?
	`, encodeEmbedding(vec), model, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save embedding: no entry %s", id)
	}
	return nil
}

// SaveSymbols stores the extracted symbol set for an entry.
func (db *DB) SaveSymbols(id string, symbols []string) error {
	data, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	res, err := db.Exec(`
		UPDATE journal_entries SET symbols = ?, updated_at = ? WHERE id = ?
	`, string(data), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("save symbols: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save symbols: no entry %s", id)
	}
	return nil
}

// DeleteEntry removes a journal entry.
func (db *DB) DeleteEntry(id string) error {
	_, err := db.Exec("DELETE FROM journal_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*JournalEntry, error) {
	var e JournalEntry
	var symbolsJSON sql.NullString
	var blob []byte
	var model sql.NullString

	if err := row.Scan(&e.ID, &e.CreatedAt, &e.Text, &symbolsJSON, &blob, &model, &e.UpdatedAt); err != nil {
		return nil, err
	}

	if symbolsJSON.Valid && symbolsJSON.String != "" {
		// An unreadable symbol list is treated as absent, not fatal —
		// symbols are re-extractable from the text.
		if err := json.Unmarshal([]byte(symbolsJSON.String), &e.Symbols); err != nil {
			e.Symbols = nil
		}
	}
	if len(blob) > 0 {
		e.Embedding = decodeEmbedding(blob)
	}
	if model.Valid {
		e.Model = model.String
	}
	return &e, nil
}

func (db *DB) queryEntries(query string, args ...any) ([]JournalEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

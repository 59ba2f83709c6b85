package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is the asynchronous key-value surface the tracker persists through.
// The history list is read and written whole.
type Store interface {
	ReadHistory(ctx context.Context) ([]HistoryEntry, error)
	WriteHistory(ctx context.Context, entries []HistoryEntry) error
}

// SQLiteStore implements Store on a single-table key-value layout.
type SQLiteStore struct {
	db  *sql.DB
	key string

	// Prepared statements
	getValue *sql.Stmt
	putValue *sql.Stmt
	delValue *sql.Stmt
}

// NewSQLiteStore creates a SQLiteStore from an already-opened and migrated
// database. An empty key selects DefaultHistoryKey.
func NewSQLiteStore(db *sql.DB, key string) (*SQLiteStore, error) {
	if key == "" {
		key = DefaultHistoryKey
	}
	s := &SQLiteStore{db: db, key: key}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getValue, err = s.db.Prepare(`SELECT value, updated_at FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	s.putValue, err = s.db.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	s.delValue, err = s.db.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}

	return nil
}

// Get returns the raw value stored under key. ok is false when the key has
// never been written.
func (s *SQLiteStore) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	var raw string
	var updated string
	err = s.getValue.QueryRowContext(ctx, key).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(raw), true, nil
}

// Put stores value under key, replacing any previous value.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.putValue.ExecContext(ctx, key, string(value), ts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ReadHistory loads the full history list. A missing key yields an empty list.
func (s *SQLiteStore) ReadHistory(ctx context.Context) ([]HistoryEntry, error) {
	raw, ok, err := s.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return []HistoryEntry{}, nil
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries, nil
}

// WriteHistory replaces the persisted history list.
func (s *SQLiteStore) WriteHistory(ctx context.Context, entries []HistoryEntry) error {
	if entries == nil {
		entries = []HistoryEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return s.Put(ctx, s.key, raw)
}

// DeleteHistory removes the history key entirely.
func (s *SQLiteStore) DeleteHistory(ctx context.Context) error {
	if _, err := s.delValue.ExecContext(ctx, s.key); err != nil {
		return fmt.Errorf("delete %s: %w", s.key, err)
	}
	return nil
}

// GetStats reports the entry count, last write time and database size.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	var raw, updated string
	err := s.getValue.QueryRowContext(ctx, s.key).Scan(&raw, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("read history: %w", err)
	default:
		var entries []HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		stats.Entries = len(entries)
		stats.UpdatedAt, _ = parseTimestamp(updated)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	stats.DatabaseSizeBytes = pageCount * pageSize

	return stats, nil
}

// parseTimestamp tries the timestamp formats SQLite and Put may produce.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.getValue, s.putValue, s.delValue} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

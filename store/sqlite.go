package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements RecordStore using SQLite.
// It uses the pure Go modernc.org/sqlite driver.
// Several processes may share one database file; each store is scoped to its origin.
type SQLiteStore struct {
	db     *sql.DB
	origin string
	key    string
}

// NewSQLite creates a new SQLite record store for origin.
// The database file is created if it doesn't exist.
func NewSQLite(dbPath, origin string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// Enable WAL mode so tabs in other processes can read while one writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, origin: origin, key: DefaultKey}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS origin_storage (
		origin     TEXT NOT NULL,
		item_key   TEXT NOT NULL,
		item_value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (origin, item_key)
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return nil
}

// Load returns the stored record for this origin.
func (s *SQLiteStore) Load(ctx context.Context) (*Record, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT item_value FROM origin_storage WHERE origin = ? AND item_key = ?",
		s.origin, s.key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load record: %w", err)
	}

	return Unmarshal([]byte(value))
}

// Save overwrites the record for this origin.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	data, err := Marshal(rec)
	if err != nil {
		return err
	}

	query := `
	INSERT OR REPLACE INTO origin_storage (origin, item_key, item_value, updated_at)
	VALUES (?, ?, ?, datetime('now'))
	`
	if _, err := s.db.ExecContext(ctx, query, s.origin, s.key, string(data)); err != nil {
		return fmt.Errorf("sqlite: failed to save record: %w", err)
	}
	return nil
}

// Clear removes the record for this origin.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM origin_storage WHERE origin = ? AND item_key = ?",
		s.origin, s.key,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to clear record: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements RecordStore using MySQL.
type MySQLStore struct {
	db     *sql.DB
	origin string
	key    string
}

// NewMySQL creates a new MySQL record store for origin on an open database.
func NewMySQL(db *sql.DB, origin string) (*MySQLStore, error) {
	if err := createMySQLSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &MySQLStore{db: db, origin: origin, key: DefaultKey}, nil
}

// NewMySQLFromDSN creates a new MySQL record store from a DSN.
// The DSN format is: user:password@tcp(host:port)/database
func NewMySQLFromDSN(dsn, origin string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: failed to connect: %w", err)
	}

	return NewMySQL(db, origin)
}

func createMySQLSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS origin_storage (
		origin     VARCHAR(255) NOT NULL,
		item_key   VARCHAR(255) NOT NULL,
		item_value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,

		PRIMARY KEY (origin, item_key)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("mysql: failed to create schema: %w", err)
	}
	return nil
}

// Load returns the stored record for this origin.
func (s *MySQLStore) Load(ctx context.Context) (*Record, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT item_value FROM origin_storage WHERE origin = ? AND item_key = ?",
		s.origin, s.key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to load record: %w", err)
	}

	return Unmarshal([]byte(value))
}

// Save overwrites the record for this origin.
func (s *MySQLStore) Save(ctx context.Context, rec *Record) error {
	data, err := Marshal(rec)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO origin_storage (origin, item_key, item_value)
	VALUES (?, ?, ?)
	ON DUPLICATE KEY UPDATE
		item_value = VALUES(item_value)
	`
	if _, err := s.db.ExecContext(ctx, query, s.origin, s.key, string(data)); err != nil {
		return fmt.Errorf("mysql: failed to save record: %w", err)
	}
	return nil
}

// Clear removes the record for this origin.
func (s *MySQLStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM origin_storage WHERE origin = ? AND item_key = ?",
		s.origin, s.key,
	)
	if err != nil {
		return fmt.Errorf("mysql: failed to clear record: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

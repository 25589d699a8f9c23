package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deegee85/negotiation-lab/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteAccessCodes implements AccessCodeStore using SQLite. Codes are
// managed out of band (seeded at startup, extended with the sqlite3 CLI);
// the server only reads them.
type SQLiteAccessCodes struct {
	db *sql.DB
}

// NewSQLiteAccessCodes opens or creates the access-code database.
func NewSQLiteAccessCodes(dbPath string) (*SQLiteAccessCodes, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	codes := &SQLiteAccessCodes{db: db}
	if err := codes.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return codes, nil
}

func (s *SQLiteAccessCodes) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS access_codes (
		code TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// IsValid reports whether the code grants access.
func (s *SQLiteAccessCodes) IsValid(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	var found string
	err := s.db.QueryRowContext(ctx,
		`SELECT code FROM access_codes WHERE code = ?`, code).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query access code: %w", err)
	}
	return true, nil
}

// Seed inserts codes, ignoring ones already present. Transient lock
// conflicts are retried; seeding races with nothing but other replicas
// starting up.
func (s *SQLiteAccessCodes) Seed(ctx context.Context, codes []string) error {
	now := time.Now().Unix()
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if err := s.seedOne(ctx, code, now); err != nil {
			return fmt.Errorf("seed access code: %w", err)
		}
	}
	return nil
}

func (s *SQLiteAccessCodes) seedOne(ctx context.Context, code string, now int64) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO access_codes (code, created_at) VALUES (?, ?)`,
			code, now)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

// Ping verifies database connectivity.
func (s *SQLiteAccessCodes) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteAccessCodes) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ AccessCodeStore = (*SQLiteAccessCodes)(nil)

package repository

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no verdict matches a lookup.
var ErrNotFound = errors.New("not found")

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS verdicts (
			id TEXT PRIMARY KEY,
			txid TEXT NOT NULL,
			valid INTEGER NOT NULL,
			currency TEXT NOT NULL,
			payouts TEXT NOT NULL,
			discrepancy_count INTEGER NOT NULL,
			verified_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_txid ON verdicts(txid)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_verified_at ON verdicts(verified_at)`,

		`CREATE TABLE IF NOT EXISTS discrepancies (
			verdict_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			txid TEXT NOT NULL,
			destination TEXT NOT NULL,
			reason TEXT NOT NULL,
			expected TEXT,
			observed_destination TEXT,
			observed_amount TEXT,
			description TEXT NOT NULL,
			PRIMARY KEY (verdict_id, position),
			FOREIGN KEY (verdict_id) REFERENCES verdicts(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_discrepancies_reason ON discrepancies(reason)`,
		`CREATE INDEX IF NOT EXISTS idx_discrepancies_destination ON discrepancies(destination)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

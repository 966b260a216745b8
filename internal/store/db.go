// Package store persists delivery records, campaign recipients, aggregate
// campaign counters, message templates and retry jobs in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the pipeline database at path.
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// OpenMemory opens an in-memory database, used by tests. The pool is
// pinned to one connection so every query sees the same database.
func OpenMemory() (*DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// Migrate applies all schema migrations. Safe to call repeatedly.
func (db *DB) Migrate() error {
	migrations := []string{
		migrationDeliveries,
		migrationDeliveriesIndexes,
		migrationCampaignRecipients,
		migrationCampaignRecipientsIndexes,
		migrationCampaignStats,
		migrationTemplates,
		migrationLeadInteractions,
		migrationJobQueue,
		migrationJobQueueIndexes,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

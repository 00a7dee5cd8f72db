package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
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
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			owner_uid TEXT NOT NULL,
			processor TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			payer_phone TEXT NOT NULL DEFAULT '',
			payer_email TEXT NOT NULL DEFAULT '',
			payer_name TEXT NOT NULL DEFAULT '',
			gateway_handle TEXT NOT NULL DEFAULT '',
			gateway_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			callback_payload BLOB,
			invoice_url TEXT NOT NULL DEFAULT '',
			has_invoice INTEGER NOT NULL DEFAULT 0,
			notifications TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_owner ON transactions(owner_uid)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_handle ON transactions(gateway_handle)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,

		`CREATE TABLE IF NOT EXISTS payment_links (
			slug TEXT PRIMARY KEY,
			owner_uid TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			recipient_phone TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			paid INTEGER NOT NULL DEFAULT 0,
			expiry_date DATETIME,
			created_at DATETIME NOT NULL,
			last_reminder_sent DATETIME,
			last_reminder_tier TEXT NOT NULL DEFAULT '',
			reminders TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_status ON payment_links(status, paid)`,

		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			owner_uid TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			total_transactions INTEGER NOT NULL DEFAULT 0,
			total_spent TEXT NOT NULL DEFAULT '0',
			payment_methods TEXT NOT NULL DEFAULT '{}',
			preferred_method TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_owner_phone
			ON customers(owner_uid, phone) WHERE phone != ''`,
		`CREATE INDEX IF NOT EXISTS idx_customers_owner_email ON customers(owner_uid, email)`,

		`CREATE TABLE IF NOT EXISTS merchant_credentials (
			merchant_id TEXT NOT NULL,
			gateway TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 0,
			secrets TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (merchant_id, gateway)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}

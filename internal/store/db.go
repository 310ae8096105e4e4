// Package store implements C3 (Order Store), C4 (Ledger & Balance Book)
// and C6 (Event Log): single-writer SQLite persistence with row-level
// locking via transactions. Modeled on the teacher's pkg/db/db.go (WAL
// mode, busy_timeout, small connection pool) generalized from OSPay's flat
// orders/merchants/ledger_entries schema to the full twelve-status,
// double-entry model spec.md §3/§6 describe.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens the settlement database and hardens it for single-writer
// concurrent access, following the teacher's pragmas exactly.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`)
	if err != nil {
		db.Close()
		return nil, err
	}
	// SQLite serializes writes regardless of pool size; keep it small like
	// the teacher does.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:authwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{
		db:   db,
		name: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS scans (
				id TEXT PRIMARY KEY,
				started_at TEXT NOT NULL,
				duration_ms INTEGER NOT NULL,
				window_ms INTEGER NOT NULL,
				events INTEGER NOT NULL,
				findings INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at)`,
			`CREATE TABLE IF NOT EXISTS findings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				scan_id TEXT NOT NULL REFERENCES scans(id),
				seq INTEGER NOT NULL,
				kind TEXT NOT NULL,
				finding_key TEXT NOT NULL,
				count INTEGER NOT NULL,
				window_minutes REAL NOT NULL,
				sample_json TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings(scan_id)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_kind_key ON findings(kind, finding_key)`,
		},
	}}, nil
}

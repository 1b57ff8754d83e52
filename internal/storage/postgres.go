package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errNoDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{
		db:       db,
		name:     "postgres",
		numbered: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS scans (
				id TEXT PRIMARY KEY,
				started_at TEXT NOT NULL,
				duration_ms BIGINT NOT NULL,
				window_ms BIGINT NOT NULL,
				events INTEGER NOT NULL,
				findings INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at)`,
			`CREATE TABLE IF NOT EXISTS findings (
				id BIGSERIAL PRIMARY KEY,
				scan_id TEXT NOT NULL REFERENCES scans(id),
				seq INTEGER NOT NULL,
				kind TEXT NOT NULL,
				finding_key TEXT NOT NULL,
				count INTEGER NOT NULL,
				window_minutes DOUBLE PRECISION NOT NULL,
				sample_json JSONB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_scan ON findings(scan_id)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_kind_key ON findings(kind, finding_key)`,
		},
	}}, nil
}

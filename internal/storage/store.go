package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"authwatch/internal/config"
	"authwatch/internal/model"
)

// Store keeps an audit trail of scans and their findings. Nothing read back
// from it feeds detection.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Name() string
	SaveScan(ctx context.Context, scan model.Scan) error
	RecentFindings(ctx context.Context, limit int) ([]model.ScanFinding, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type baseStore struct {
	db     *sql.DB
	name   string
	schema []string
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
}

func (b *baseStore) Name() string {
	return b.name
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) bind(query string) string {
	if !b.numbered {
		return query
	}
	var out strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			out.WriteString("$" + strconv.Itoa(n))
			continue
		}
		out.WriteRune(ch)
	}
	return out.String()
}

func (b *baseStore) SaveScan(ctx context.Context, scan model.Scan) error {
	if b.db == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		b.bind(`INSERT INTO scans (id, started_at, duration_ms, window_ms, events, findings)
		VALUES (?, ?, ?, ?, ?, ?)`),
		scan.ID,
		formatTime(scan.StartedAt),
		scan.Duration.Milliseconds(),
		scan.Window.Milliseconds(),
		scan.Events,
		len(scan.Findings),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	if len(scan.Findings) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			b.bind(`INSERT INTO findings (scan_id, seq, kind, finding_key, count, window_minutes, sample_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		defer stmt.Close()
		for i, f := range scan.Findings {
			if _, err := stmt.ExecContext(ctx,
				scan.ID,
				i,
				string(f.Kind),
				f.Key,
				f.Count,
				f.WindowMinutes,
				encodeJSON(f.Sample),
			); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

// RecentFindings returns up to limit findings, newest scan first.
func (b *baseStore) RecentFindings(ctx context.Context, limit int) ([]model.ScanFinding, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx,
		b.bind(`SELECT f.scan_id, s.started_at, f.kind, f.finding_key, f.count, f.window_minutes, f.sample_json
		FROM findings f JOIN scans s ON s.id = f.scan_id
		ORDER BY s.started_at DESC, f.seq ASC
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScanFinding
	for rows.Next() {
		var (
			sf      model.ScanFinding
			started string
			kind    string
			sample  string
		)
		if err := rows.Scan(&sf.ScanID, &started, &kind, &sf.Key, &sf.Count, &sf.WindowMinutes, &sample); err != nil {
			return nil, err
		}
		sf.Kind = model.Kind(kind)
		if sf.ScannedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("scan %s: started_at: %w", sf.ScanID, err)
		}
		if err := json.Unmarshal([]byte(sample), &sf.Sample); err != nil {
			return nil, fmt.Errorf("scan %s: sample: %w", sf.ScanID, err)
		}
		out = append(out, sf)
	}
	return out, rows.Err()
}

// Scan times are stored as fixed-width RFC3339 UTC text so that ordering by
// the column is chronological on every backend.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeJSON(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(data)
}

var errNoDSN = errors.New("storage dsn is empty")

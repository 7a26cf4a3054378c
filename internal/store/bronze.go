package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ohler55/ojg/oj"

	"github.com/strata-etl/strata/api"
)

// Bronze is the append-only raw record table. Rows are keyed by content
// fingerprint and never updated or deleted — the table doubles as the
// dedup key index: an append that changes no rows means the fingerprint
// was already committed.
type Bronze struct {
	db *sql.DB
}

const bronzeSchema = `
CREATE TABLE IF NOT EXISTS raw_events (
	fingerprint TEXT PRIMARY KEY,
	source_file TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	payload     TEXT NOT NULL,
	ingested_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_events_source ON raw_events(source_file);
`

func NewBronze(db *sql.DB) (*Bronze, error) {
	if _, err := db.Exec(bronzeSchema); err != nil {
		return nil, fmt.Errorf("create bronze schema: %w", err)
	}
	return &Bronze{db: db}, nil
}

// Append durably commits one raw record. The insert is the atomic
// check-and-commit: ErrDuplicate means the fingerprint was already present
// and nothing was written.
func (b *Bronze) Append(ctx context.Context, rec *api.RawRecord) error {
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO raw_events (fingerprint, source_file, event_id, event_type, created_at, payload, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		rec.Fingerprint, rec.SourceFile, rec.EventID, rec.EventType,
		rec.CreatedAt, oj.JSON(rec.Payload), rec.IngestedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append record %s: %w", rec.Fingerprint, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append record %s: %w", rec.Fingerprint, err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// Scan streams records, optionally filtered to one source file (empty
// sourceFile scans everything). Only one decoded record is alive at a time.
func (b *Bronze) Scan(ctx context.Context, sourceFile string, fn func(*api.RawRecord) error) error {
	query := `SELECT fingerprint, source_file, event_id, event_type, created_at, payload, ingested_at
		FROM raw_events`
	args := []any{}
	if sourceFile != "" {
		query += ` WHERE source_file = ?`
		args = append(args, sourceFile)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scan bronze: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec api.RawRecord
		var payload string
		var ingested int64
		if err := rows.Scan(&rec.Fingerprint, &rec.SourceFile, &rec.EventID,
			&rec.EventType, &rec.CreatedAt, &payload, &ingested); err != nil {
			return fmt.Errorf("scan bronze row: %w", err)
		}
		parsed, err := oj.ParseString(payload)
		if err != nil {
			return fmt.Errorf("parse stored payload %s: %w", rec.Fingerprint, err)
		}
		doc, ok := parsed.(map[string]any)
		if !ok {
			return fmt.Errorf("stored payload %s is not an object", rec.Fingerprint)
		}
		rec.Payload = doc
		rec.IngestedAt = time.Unix(ingested, 0).UTC()
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of committed raw records.
func (b *Bronze) Count(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bronze: %w", err)
	}
	return n, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// Status is the per-file processing state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// FileState is one checkpoint row, as listed by the status command.
type FileState struct {
	FileID    string
	Status    Status
	Attempts  int
	UpdatedAt time.Time
}

// Checkpoints tracks which archive files have been fully processed, so a
// restarted run skips completed work and resumes in-progress files.
type Checkpoints struct {
	db *sql.DB
}

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	file_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	offsets    BLOB,
	updated_at INTEGER NOT NULL
);
`

func NewCheckpoints(db *sql.DB) (*Checkpoints, error) {
	if _, err := db.Exec(checkpointSchema); err != nil {
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	return &Checkpoints{db: db}, nil
}

// Claim atomically moves a file into in-progress. It returns false when the
// file is already complete or failed, in which case the caller must skip it.
// Claiming an in-progress file succeeds: that is the crash-resume path, and
// double-scanning a partial file is safe because records re-dedup.
func (c *Checkpoints) Claim(ctx context.Context, fileID string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO checkpoints (file_id, status, attempts, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE checkpoints.status IN (?, ?)`,
		fileID, StatusInProgress, time.Now().Unix(),
		StatusPending, StatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", fileID, err)
	}
	return n > 0, nil
}

// Complete marks a file fully processed and drops its offset bitmap.
func (c *Checkpoints) Complete(ctx context.Context, fileID string) error {
	return c.setStatus(ctx, fileID, StatusComplete, true)
}

// Fail marks a file failed after retry exhaustion and bumps its attempt
// counter. Failed files are excluded from later runs until reset.
func (c *Checkpoints) Fail(ctx context.Context, fileID string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE checkpoints SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE file_id = ?`,
		StatusFailed, time.Now().Unix(), fileID,
	)
	if err != nil {
		return fmt.Errorf("fail %s: %w", fileID, err)
	}
	return nil
}

func (c *Checkpoints) setStatus(ctx context.Context, fileID string, st Status, clearOffsets bool) error {
	query := `UPDATE checkpoints SET status = ?, updated_at = ? WHERE file_id = ?`
	if clearOffsets {
		query = `UPDATE checkpoints SET status = ?, updated_at = ?, offsets = NULL WHERE file_id = ?`
	}
	if _, err := c.db.ExecContext(ctx, query, st, time.Now().Unix(), fileID); err != nil {
		return fmt.Errorf("set status %s on %s: %w", st, fileID, err)
	}
	return nil
}

// Status returns a file's state; files never seen before are pending.
func (c *Checkpoints) Status(ctx context.Context, fileID string) (Status, error) {
	var st string
	err := c.db.QueryRowContext(ctx,
		`SELECT status FROM checkpoints WHERE file_id = ?`, fileID).Scan(&st)
	if err == sql.ErrNoRows {
		return StatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("status of %s: %w", fileID, err)
	}
	return Status(st), nil
}

// MarkOffsets persists the set of line numbers already committed for an
// in-progress file. Advisory: resume works without it, it only lets the
// scanner skip committed lines cheaply.
func (c *Checkpoints) MarkOffsets(ctx context.Context, fileID string, bm *roaring.Bitmap) error {
	blob, err := bm.ToBytes()
	if err != nil {
		return fmt.Errorf("serialize offsets for %s: %w", fileID, err)
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE checkpoints SET offsets = ?, updated_at = ? WHERE file_id = ?`,
		blob, time.Now().Unix(), fileID,
	)
	if err != nil {
		return fmt.Errorf("mark offsets for %s: %w", fileID, err)
	}
	return nil
}

// Offsets loads the committed line-number bitmap for a file. A file with no
// stored bitmap returns an empty one.
func (c *Checkpoints) Offsets(ctx context.Context, fileID string) (*roaring.Bitmap, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT offsets FROM checkpoints WHERE file_id = ?`, fileID).Scan(&blob)
	if err == sql.ErrNoRows || (err == nil && len(blob) == 0) {
		return roaring.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("offsets of %s: %w", fileID, err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("decode offsets of %s: %w", fileID, err)
	}
	return bm, nil
}

// List returns every checkpoint row, most recently updated first.
func (c *Checkpoints) List(ctx context.Context) ([]FileState, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT file_id, status, attempts, updated_at
		FROM checkpoints ORDER BY updated_at DESC, file_id`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileState
	for rows.Next() {
		var fs FileState
		var st string
		var updated int64
		if err := rows.Scan(&fs.FileID, &st, &fs.Attempts, &updated); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		fs.Status = Status(st)
		fs.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, fs)
	}
	return out, rows.Err()
}

// ResetFailed moves every failed file back to pending so the next run
// retries it. Returns the number of files reset.
func (c *Checkpoints) ResetFailed(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE checkpoints SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, time.Now().Unix(), StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("reset failed files: %w", err)
	}
	return res.RowsAffected()
}

// Package store persists the bronze, silver and checkpoint tables in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicate signals an append whose fingerprint is already committed.
	// Not a failure: callers count it and move on.
	ErrDuplicate = errors.New("duplicate fingerprint")

	// ErrVersionConflict signals a stale optimistic upsert; the caller must
	// re-read the entity and retry the merge.
	ErrVersionConflict = errors.New("entity version conflict")
)

// Open opens (creating if needed) a SQLite database for mixed read/write
// access from concurrent workers. WAL keeps readers off the writer's lock;
// the single write connection sidesteps SQLITE_BUSY between workers.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	return db, nil
}

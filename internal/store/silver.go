package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/strata-etl/strata/api"
)

// Silver holds the normalized entity and fact tables. Entities carry a
// version column for optimistic concurrency: an upsert against a stale
// version changes no rows and surfaces ErrVersionConflict, and the merge
// layer retries with freshly re-read state.
type Silver struct {
	db *sql.DB
}

const silverSchema = `
CREATE TABLE IF NOT EXISTS actors (
	actor_id      INTEGER PRIMARY KEY,
	login         TEXT,
	display_login TEXT,
	url           TEXT,
	type          TEXT,
	site_admin    INTEGER,
	avatar_url    TEXT,
	gravatar_id   TEXT,
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	version       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS repositories (
	repo_id       INTEGER PRIMARY KEY,
	name          TEXT,
	url           TEXT,
	owner_login   TEXT,
	short_name    TEXT,
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	version       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS organizations (
	org_id        INTEGER PRIMARY KEY,
	login         TEXT,
	url           TEXT,
	avatar_url    TEXT,
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	version       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	event_hash  TEXT PRIMARY KEY,
	event_id    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	actor_id    INTEGER NOT NULL,
	repo_id     INTEGER NOT NULL,
	org_id      INTEGER,
	is_bot      INTEGER NOT NULL,
	public      INTEGER NOT NULL,
	hour_bucket TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_hour ON events(hour_bucket);
CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor_id);
CREATE INDEX IF NOT EXISTS idx_events_repo ON events(repo_id);
CREATE TABLE IF NOT EXISTS payload_facts (
	event_id        TEXT PRIMARY KEY,
	event_type      TEXT NOT NULL,
	action          TEXT,
	issue_id        INTEGER,
	issue_number    INTEGER,
	pull_request_id INTEGER,
	pr_number       INTEGER,
	pr_merged       INTEGER,
	comment_id      INTEGER,
	push_size       INTEGER,
	distinct_size   INTEGER,
	ref             TEXT,
	ref_type        TEXT,
	head            TEXT,
	before_sha      TEXT
);
`

func NewSilver(db *sql.DB) (*Silver, error) {
	if _, err := db.Exec(silverSchema); err != nil {
		return nil, fmt.Errorf("create silver schema: %w", err)
	}
	return &Silver{db: db}, nil
}

// GetActor returns the stored actor and its version, or (nil, 0) when the
// entity has never been seen.
func (s *Silver) GetActor(ctx context.Context, id int64) (*api.Actor, int64, error) {
	var a api.Actor
	var version, first, last int64
	var siteAdmin sql.NullBool
	var login, display, url, typ, avatar, gravatar sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT actor_id, login, display_login, url, type, site_admin,
		       avatar_url, gravatar_id, first_seen_at, last_seen_at, version
		FROM actors WHERE actor_id = ?`, id).Scan(
		&a.ID, &login, &display, &url, &typ, &siteAdmin,
		&avatar, &gravatar, &first, &last, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get actor %d: %w", id, err)
	}
	a.Login = strPtr(login)
	a.DisplayLogin = strPtr(display)
	a.URL = strPtr(url)
	a.Type = strPtr(typ)
	a.SiteAdmin = boolPtr(siteAdmin)
	a.AvatarURL = strPtr(avatar)
	a.GravatarID = strPtr(gravatar)
	a.FirstSeenAt = time.Unix(first, 0).UTC()
	a.LastSeenAt = time.Unix(last, 0).UTC()
	return &a, version, nil
}

// UpsertActor writes the next actor state. prevVersion 0 means "must not
// exist yet"; any other value must match the stored row.
func (s *Silver) UpsertActor(ctx context.Context, a api.Actor, prevVersion int64) error {
	if prevVersion == 0 {
		return s.casInsert(ctx, `
			INSERT INTO actors (actor_id, login, display_login, url, type, site_admin,
				avatar_url, gravatar_id, first_seen_at, last_seen_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(actor_id) DO NOTHING`,
			a.ID, a.Login, a.DisplayLogin, a.URL, a.Type, a.SiteAdmin,
			a.AvatarURL, a.GravatarID, a.FirstSeenAt.Unix(), a.LastSeenAt.Unix())
	}
	return s.casUpdate(ctx, `
		UPDATE actors SET login = ?, display_login = ?, url = ?, type = ?,
			site_admin = ?, avatar_url = ?, gravatar_id = ?,
			first_seen_at = ?, last_seen_at = ?, version = version + 1
		WHERE actor_id = ? AND version = ?`,
		a.Login, a.DisplayLogin, a.URL, a.Type, a.SiteAdmin, a.AvatarURL,
		a.GravatarID, a.FirstSeenAt.Unix(), a.LastSeenAt.Unix(), a.ID, prevVersion)
}

// GetRepository returns the stored repository and its version.
func (s *Silver) GetRepository(ctx context.Context, id int64) (*api.Repository, int64, error) {
	var r api.Repository
	var version, first, last int64
	var name, url, owner, short sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT repo_id, name, url, owner_login, short_name,
		       first_seen_at, last_seen_at, version
		FROM repositories WHERE repo_id = ?`, id).Scan(
		&r.ID, &name, &url, &owner, &short, &first, &last, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get repository %d: %w", id, err)
	}
	r.Name = strPtr(name)
	r.URL = strPtr(url)
	r.OwnerLogin = strPtr(owner)
	r.ShortName = strPtr(short)
	r.FirstSeenAt = time.Unix(first, 0).UTC()
	r.LastSeenAt = time.Unix(last, 0).UTC()
	return &r, version, nil
}

func (s *Silver) UpsertRepository(ctx context.Context, r api.Repository, prevVersion int64) error {
	if prevVersion == 0 {
		return s.casInsert(ctx, `
			INSERT INTO repositories (repo_id, name, url, owner_login, short_name,
				first_seen_at, last_seen_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(repo_id) DO NOTHING`,
			r.ID, r.Name, r.URL, r.OwnerLogin, r.ShortName,
			r.FirstSeenAt.Unix(), r.LastSeenAt.Unix())
	}
	return s.casUpdate(ctx, `
		UPDATE repositories SET name = ?, url = ?, owner_login = ?, short_name = ?,
			first_seen_at = ?, last_seen_at = ?, version = version + 1
		WHERE repo_id = ? AND version = ?`,
		r.Name, r.URL, r.OwnerLogin, r.ShortName,
		r.FirstSeenAt.Unix(), r.LastSeenAt.Unix(), r.ID, prevVersion)
}

// GetOrganization returns the stored organization and its version.
func (s *Silver) GetOrganization(ctx context.Context, id int64) (*api.Organization, int64, error) {
	var o api.Organization
	var version, first, last int64
	var login, url, avatar sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, login, url, avatar_url, first_seen_at, last_seen_at, version
		FROM organizations WHERE org_id = ?`, id).Scan(
		&o.ID, &login, &url, &avatar, &first, &last, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get organization %d: %w", id, err)
	}
	o.Login = strPtr(login)
	o.URL = strPtr(url)
	o.AvatarURL = strPtr(avatar)
	o.FirstSeenAt = time.Unix(first, 0).UTC()
	o.LastSeenAt = time.Unix(last, 0).UTC()
	return &o, version, nil
}

func (s *Silver) UpsertOrganization(ctx context.Context, o api.Organization, prevVersion int64) error {
	if prevVersion == 0 {
		return s.casInsert(ctx, `
			INSERT INTO organizations (org_id, login, url, avatar_url,
				first_seen_at, last_seen_at, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(org_id) DO NOTHING`,
			o.ID, o.Login, o.URL, o.AvatarURL,
			o.FirstSeenAt.Unix(), o.LastSeenAt.Unix())
	}
	return s.casUpdate(ctx, `
		UPDATE organizations SET login = ?, url = ?, avatar_url = ?,
			first_seen_at = ?, last_seen_at = ?, version = version + 1
		WHERE org_id = ? AND version = ?`,
		o.Login, o.URL, o.AvatarURL,
		o.FirstSeenAt.Unix(), o.LastSeenAt.Unix(), o.ID, prevVersion)
}

// InsertEvent writes a normalized event row. Re-inserting an existing hash
// is a no-op except for backfilling an org_id that was previously missing.
// Returns true when a new row was created.
func (s *Silver) InsertEvent(ctx context.Context, ev api.NormalizedEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_hash, event_id, event_type, created_at,
			actor_id, repo_id, org_id, is_bot, public, hour_bucket)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_hash) DO NOTHING`,
		ev.EventHash, ev.EventID, ev.EventType, ev.CreatedAt.Unix(),
		ev.ActorID, ev.RepoID, ev.OrgID, ev.IsBot, ev.Public, ev.HourBucket)
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.EventHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.EventHash, err)
	}
	if n > 0 {
		return true, nil
	}
	if ev.OrgID != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE events SET org_id = ? WHERE event_hash = ? AND org_id IS NULL`,
			ev.OrgID, ev.EventHash)
		if err != nil {
			return false, fmt.Errorf("backfill event %s: %w", ev.EventHash, err)
		}
	}
	return false, nil
}

// InsertFact writes the payload fact row for an event; one row per event,
// re-inserts are no-ops. Returns true when a new row was created.
func (s *Silver) InsertFact(ctx context.Context, f api.PayloadFact) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payload_facts (event_id, event_type, action, issue_id,
			issue_number, pull_request_id, pr_number, pr_merged, comment_id,
			push_size, distinct_size, ref, ref_type, head, before_sha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		f.EventID, f.EventType, f.Action, f.IssueID, f.IssueNumber,
		f.PullRequestID, f.PRNumber, f.PRMerged, f.CommentID,
		f.PushSize, f.DistinctSize, f.Ref, f.RefType, f.Head, f.Before)
	if err != nil {
		return false, fmt.Errorf("insert fact %s: %w", f.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert fact %s: %w", f.EventID, err)
	}
	return n > 0, nil
}

// ScanActors streams every actor row, for downstream consumers.
func (s *Silver) ScanActors(ctx context.Context, fn func(api.Actor) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT actor_id FROM actors ORDER BY actor_id`)
	if err != nil {
		return fmt.Errorf("scan actors: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan actor id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		a, _, err := s.GetActor(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			continue
		}
		if err := fn(*a); err != nil {
			return err
		}
	}
	return nil
}

// CountEvents returns the number of normalized event rows.
func (s *Silver) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// DB exposes the underlying handle for read-only gold aggregation queries.
func (s *Silver) DB() *sql.DB {
	return s.db
}

func (s *Silver) casInsert(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	if n == 0 {
		// Row appeared between the caller's read and this insert.
		return ErrVersionConflict
	}
	return nil
}

func (s *Silver) casUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func boolPtr(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	return &nb.Bool
}

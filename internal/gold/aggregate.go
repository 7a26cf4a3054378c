// Package gold computes read-only aggregations over the silver tables.
// No merge semantics here: plain grouping and counting over committed state.
package gold

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Aggregator runs the gold queries against a silver database handle.
type Aggregator struct {
	db *sql.DB
}

func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{db: db}
}

// TypeCount is one event-type count row.
type TypeCount struct {
	EventType string
	Count     int64
}

// ActorActivity is one actor rollup row.
type ActorActivity struct {
	ActorID     int64
	Login       string
	TotalEvents int64
	BotEvents   int64
}

// RepoActivity is one repository rollup row.
type RepoActivity struct {
	RepoID      int64
	Name        string
	OwnerLogin  string
	TotalEvents int64
}

// OrgActivity is one organization rollup row.
type OrgActivity struct {
	OrgID       int64
	Login       string
	TotalEvents int64
}

// HourlySummary is one hour-bucket rollup row.
type HourlySummary struct {
	HourBucket     string
	TotalEvents    int64
	DistinctActors int64
	DistinctRepos  int64
	BotEvents      int64
}

// EventTypeCounts groups normalized events by type.
func (a *Aggregator) EventTypeCounts(ctx context.Context) ([]TypeCount, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) AS n
		FROM events GROUP BY event_type ORDER BY n DESC, event_type`)
	if err != nil {
		return nil, fmt.Errorf("event type counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.EventType, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// TopActors returns the most active actors with their bot-event share.
func (a *Aggregator) TopActors(ctx context.Context, limit int) ([]ActorActivity, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT e.actor_id, COALESCE(a.login, ''),
		       COUNT(*) AS n, COALESCE(SUM(e.is_bot), 0)
		FROM events e
		LEFT JOIN actors a ON a.actor_id = e.actor_id
		GROUP BY e.actor_id ORDER BY n DESC, e.actor_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top actors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ActorActivity
	for rows.Next() {
		var aa ActorActivity
		if err := rows.Scan(&aa.ActorID, &aa.Login, &aa.TotalEvents, &aa.BotEvents); err != nil {
			return nil, fmt.Errorf("scan actor activity: %w", err)
		}
		out = append(out, aa)
	}
	return out, rows.Err()
}

// TopRepos returns the most active repositories.
func (a *Aggregator) TopRepos(ctx context.Context, limit int) ([]RepoActivity, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT e.repo_id, COALESCE(r.name, ''), COALESCE(r.owner_login, ''),
		       COUNT(*) AS n
		FROM events e
		LEFT JOIN repositories r ON r.repo_id = e.repo_id
		GROUP BY e.repo_id ORDER BY n DESC, e.repo_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top repos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RepoActivity
	for rows.Next() {
		var ra RepoActivity
		if err := rows.Scan(&ra.RepoID, &ra.Name, &ra.OwnerLogin, &ra.TotalEvents); err != nil {
			return nil, fmt.Errorf("scan repo activity: %w", err)
		}
		out = append(out, ra)
	}
	return out, rows.Err()
}

// TopOrgs returns the most active organizations. Events without an org are
// not attributed to anyone.
func (a *Aggregator) TopOrgs(ctx context.Context, limit int) ([]OrgActivity, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT e.org_id, COALESCE(o.login, ''), COUNT(*) AS n
		FROM events e
		LEFT JOIN organizations o ON o.org_id = e.org_id
		WHERE e.org_id IS NOT NULL
		GROUP BY e.org_id ORDER BY n DESC, e.org_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top orgs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OrgActivity
	for rows.Next() {
		var oa OrgActivity
		if err := rows.Scan(&oa.OrgID, &oa.Login, &oa.TotalEvents); err != nil {
			return nil, fmt.Errorf("scan org activity: %w", err)
		}
		out = append(out, oa)
	}
	return out, rows.Err()
}

// HourlySummaries rolls events up per hour bucket.
func (a *Aggregator) HourlySummaries(ctx context.Context) ([]HourlySummary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT hour_bucket, COUNT(*),
		       COUNT(DISTINCT actor_id), COUNT(DISTINCT repo_id),
		       COALESCE(SUM(is_bot), 0)
		FROM events GROUP BY hour_bucket ORDER BY hour_bucket`)
	if err != nil {
		return nil, fmt.Errorf("hourly summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []HourlySummary
	for rows.Next() {
		var hs HourlySummary
		if err := rows.Scan(&hs.HourBucket, &hs.TotalEvents,
			&hs.DistinctActors, &hs.DistinctRepos, &hs.BotEvents); err != nil {
			return nil, fmt.Errorf("scan hourly summary: %w", err)
		}
		out = append(out, hs)
	}
	return out, rows.Err()
}

// WriteHourlyCSV writes the hourly summary table as CSV.
func WriteHourlyCSV(w io.Writer, rows []HourlySummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"hour_bucket", "total_events", "distinct_actors", "distinct_repos", "bot_events"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.HourBucket,
			strconv.FormatInt(r.TotalEvents, 10),
			strconv.FormatInt(r.DistinctActors, 10),
			strconv.FormatInt(r.DistinctRepos, 10),
			strconv.FormatInt(r.BotEvents, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

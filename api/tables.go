// Package api defines the row types of the bronze and silver tables.
// Downstream consumers (gold aggregations, exports) depend on these shapes.
package api

import "time"

// RawRecord is one deduplicated bronze row. Immutable once written.
type RawRecord struct {
	// Fingerprint is the content hash used as the dedup key (primary key).
	Fingerprint string         `json:"fingerprint" db:"fingerprint"`
	SourceFile  string         `json:"source_file" db:"source_file"`
	EventID     string         `json:"event_id" db:"event_id"`
	EventType   string         `json:"event_type" db:"event_type"`
	// CreatedAt is kept as the raw upstream string; parsing happens in silver.
	CreatedAt  string         `json:"created_at" db:"created_at"`
	Payload    map[string]any `json:"payload" db:"payload"`
	IngestedAt time.Time      `json:"ingested_at" db:"ingested_at"`
}

// Actor is a silver dimension row keyed by the upstream numeric actor ID.
// Optional attributes are pointers: nil means "never observed", which the
// merge engine treats differently from an observed empty string.
type Actor struct {
	ID           int64     `json:"actor_id" db:"actor_id"`
	Login        *string   `json:"login" db:"login"`
	DisplayLogin *string   `json:"display_login" db:"display_login"`
	URL          *string   `json:"url" db:"url"`
	Type         *string   `json:"type" db:"type"`
	SiteAdmin    *bool     `json:"site_admin" db:"site_admin"`
	AvatarURL    *string   `json:"avatar_url" db:"avatar_url"`
	GravatarID   *string   `json:"gravatar_id" db:"gravatar_id"`
	FirstSeenAt  time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// Repository is a silver dimension row keyed by the upstream numeric repo ID.
type Repository struct {
	ID          int64     `json:"repo_id" db:"repo_id"`
	Name        *string   `json:"name" db:"name"`
	URL         *string   `json:"url" db:"url"`
	OwnerLogin  *string   `json:"owner_login" db:"owner_login"`
	ShortName   *string   `json:"short_name" db:"short_name"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// Organization is a silver dimension row keyed by the upstream numeric org ID.
type Organization struct {
	ID          int64     `json:"org_id" db:"org_id"`
	Login       *string   `json:"login" db:"login"`
	URL         *string   `json:"url" db:"url"`
	AvatarURL   *string   `json:"avatar_url" db:"avatar_url"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// NormalizedEvent is the silver fact row, 1:1 with a committed RawRecord.
type NormalizedEvent struct {
	EventHash  string    `json:"event_hash" db:"event_hash"`
	EventID    string    `json:"event_id" db:"event_id"`
	EventType  string    `json:"event_type" db:"event_type"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ActorID    int64     `json:"actor_id" db:"actor_id"`
	RepoID     int64     `json:"repo_id" db:"repo_id"`
	OrgID      *int64    `json:"org_id" db:"org_id"`
	// IsBot is a best-effort classification from the actor login; it is a
	// naming heuristic, not ground truth.
	IsBot      bool   `json:"is_bot" db:"is_bot"`
	Public     bool   `json:"public" db:"public"`
	HourBucket string `json:"hour_bucket" db:"hour_bucket"`
}

// PayloadFact carries the event-type-specific payload fields, one row per
// NormalizedEvent. Fields outside the event's declared type stay nil.
type PayloadFact struct {
	EventID       string  `json:"event_id" db:"event_id"`
	EventType     string  `json:"event_type" db:"event_type"`
	Action        *string `json:"action" db:"action"`
	IssueID       *int64  `json:"issue_id" db:"issue_id"`
	IssueNumber   *int64  `json:"issue_number" db:"issue_number"`
	PullRequestID *int64  `json:"pull_request_id" db:"pull_request_id"`
	PRNumber      *int64  `json:"pr_number" db:"pr_number"`
	PRMerged      *bool   `json:"pr_merged" db:"pr_merged"`
	CommentID     *int64  `json:"comment_id" db:"comment_id"`
	PushSize      *int64  `json:"push_size" db:"push_size"`
	DistinctSize  *int64  `json:"distinct_size" db:"distinct_size"`
	Ref           *string `json:"ref" db:"ref"`
	RefType       *string `json:"ref_type" db:"ref_type"`
	Head          *string `json:"head" db:"head"`
	Before        *string `json:"before" db:"before_sha"`
}

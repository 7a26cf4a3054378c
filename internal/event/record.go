// Package event holds the raw record model and the stateless projections
// from raw records into entity observations and silver fact rows.
package event

import "time"

// ActorObservation is one partial view of an actor as seen in a single record.
// nil fields were absent from the record, not observed as empty.
type ActorObservation struct {
	ID           int64
	Login        *string
	DisplayLogin *string
	URL          *string
	Type         *string
	SiteAdmin    *bool
	AvatarURL    *string
	GravatarID   *string
	ObservedAt   time.Time
}

// RepoObservation is one partial view of a repository.
type RepoObservation struct {
	ID         int64
	Name       *string
	URL        *string
	OwnerLogin *string
	ShortName  *string
	ObservedAt time.Time
}

// OrgObservation is one partial view of an organization.
type OrgObservation struct {
	ID         int64
	Login      *string
	URL        *string
	AvatarURL  *string
	ObservedAt time.Time
}

// createdAtFormats are the timestamp layouts seen across archive windows.
// Newer archives use RFC 3339; pre-2012 archives used a slash format.
var createdAtFormats = []string{
	time.RFC3339,
	"2006/01/02 15:04:05 -0700",
}

// ParseCreatedAt parses an upstream created_at string. Returns false when the
// value matches none of the known layouts.
func ParseCreatedAt(s string) (time.Time, bool) {
	for _, layout := range createdAtFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// HourBucket formats t as the archive hour bucket (YYYY-MM-DD-HH).
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02-15")
}

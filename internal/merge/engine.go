// Package merge combines batches of partial entity observations with stored
// entity state.
//
// Two rules do all the work. Within a batch, the latest known value per
// attribute wins (ties on observed_at broken by input order, so resolution
// is deterministic). Across batches, coalesce-forward: a stored known value
// is never changed, unknowns get filled in. first_seen_at/last_seen_at take
// min/max, which is associative and commutative — replaying the same
// observations in any order or batching lands on the same final state.
//
// Coalesce-forward (first writer wins per attribute) is deliberate and
// differs from last-writer-wins; see the tests before changing it.
package merge

import (
	"sort"
	"time"

	"github.com/strata-etl/strata/api"
	"github.com/strata-etl/strata/internal/event"
)

// ResolvedActor is a batch of actor observations collapsed to one.
type ResolvedActor struct {
	Obs       event.ActorObservation
	FirstSeen time.Time
	LastSeen  time.Time
}

// ResolvedRepo is a batch of repository observations collapsed to one.
type ResolvedRepo struct {
	Obs       event.RepoObservation
	FirstSeen time.Time
	LastSeen  time.Time
}

// ResolvedOrg is a batch of organization observations collapsed to one.
type ResolvedOrg struct {
	Obs       event.OrgObservation
	FirstSeen time.Time
	LastSeen  time.Time
}

// ResolveActors collapses a non-empty batch sharing one actor id.
func ResolveActors(obs []event.ActorObservation) ResolvedActor {
	sorted := make([]event.ActorObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	out := sorted[0]
	first, last := out.ObservedAt, out.ObservedAt
	for _, o := range sorted[1:] {
		out.Login = override(out.Login, o.Login)
		out.DisplayLogin = override(out.DisplayLogin, o.DisplayLogin)
		out.URL = override(out.URL, o.URL)
		out.Type = override(out.Type, o.Type)
		out.SiteAdmin = override(out.SiteAdmin, o.SiteAdmin)
		out.AvatarURL = override(out.AvatarURL, o.AvatarURL)
		out.GravatarID = override(out.GravatarID, o.GravatarID)
		first, last = bounds(first, last, o.ObservedAt)
	}
	out.ObservedAt = last
	return ResolvedActor{Obs: out, FirstSeen: first, LastSeen: last}
}

// ResolveRepos collapses a non-empty batch sharing one repository id.
func ResolveRepos(obs []event.RepoObservation) ResolvedRepo {
	sorted := make([]event.RepoObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	out := sorted[0]
	first, last := out.ObservedAt, out.ObservedAt
	for _, o := range sorted[1:] {
		out.Name = override(out.Name, o.Name)
		out.URL = override(out.URL, o.URL)
		out.OwnerLogin = override(out.OwnerLogin, o.OwnerLogin)
		out.ShortName = override(out.ShortName, o.ShortName)
		first, last = bounds(first, last, o.ObservedAt)
	}
	out.ObservedAt = last
	return ResolvedRepo{Obs: out, FirstSeen: first, LastSeen: last}
}

// ResolveOrgs collapses a non-empty batch sharing one organization id.
func ResolveOrgs(obs []event.OrgObservation) ResolvedOrg {
	sorted := make([]event.OrgObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	out := sorted[0]
	first, last := out.ObservedAt, out.ObservedAt
	for _, o := range sorted[1:] {
		out.Login = override(out.Login, o.Login)
		out.URL = override(out.URL, o.URL)
		out.AvatarURL = override(out.AvatarURL, o.AvatarURL)
		first, last = bounds(first, last, o.ObservedAt)
	}
	out.ObservedAt = last
	return ResolvedOrg{Obs: out, FirstSeen: first, LastSeen: last}
}

// MergeActor produces the next stored state. prev == nil means new entity.
func MergeActor(prev *api.Actor, r ResolvedActor) api.Actor {
	next := api.Actor{
		ID:           r.Obs.ID,
		Login:        r.Obs.Login,
		DisplayLogin: r.Obs.DisplayLogin,
		URL:          r.Obs.URL,
		Type:         r.Obs.Type,
		SiteAdmin:    r.Obs.SiteAdmin,
		AvatarURL:    r.Obs.AvatarURL,
		GravatarID:   r.Obs.GravatarID,
		FirstSeenAt:  r.FirstSeen,
		LastSeenAt:   r.LastSeen,
	}
	if prev == nil {
		return next
	}
	next.Login = coalesce(prev.Login, next.Login)
	next.DisplayLogin = coalesce(prev.DisplayLogin, next.DisplayLogin)
	next.URL = coalesce(prev.URL, next.URL)
	next.Type = coalesce(prev.Type, next.Type)
	next.SiteAdmin = coalesce(prev.SiteAdmin, next.SiteAdmin)
	next.AvatarURL = coalesce(prev.AvatarURL, next.AvatarURL)
	next.GravatarID = coalesce(prev.GravatarID, next.GravatarID)
	next.FirstSeenAt = minTime(prev.FirstSeenAt, next.FirstSeenAt)
	next.LastSeenAt = maxTime(prev.LastSeenAt, next.LastSeenAt)
	return next
}

// MergeRepository produces the next stored state. prev == nil means new entity.
func MergeRepository(prev *api.Repository, r ResolvedRepo) api.Repository {
	next := api.Repository{
		ID:          r.Obs.ID,
		Name:        r.Obs.Name,
		URL:         r.Obs.URL,
		OwnerLogin:  r.Obs.OwnerLogin,
		ShortName:   r.Obs.ShortName,
		FirstSeenAt: r.FirstSeen,
		LastSeenAt:  r.LastSeen,
	}
	if prev == nil {
		return next
	}
	next.Name = coalesce(prev.Name, next.Name)
	next.URL = coalesce(prev.URL, next.URL)
	next.OwnerLogin = coalesce(prev.OwnerLogin, next.OwnerLogin)
	next.ShortName = coalesce(prev.ShortName, next.ShortName)
	next.FirstSeenAt = minTime(prev.FirstSeenAt, next.FirstSeenAt)
	next.LastSeenAt = maxTime(prev.LastSeenAt, next.LastSeenAt)
	return next
}

// MergeOrganization produces the next stored state. prev == nil means new entity.
func MergeOrganization(prev *api.Organization, r ResolvedOrg) api.Organization {
	next := api.Organization{
		ID:          r.Obs.ID,
		Login:       r.Obs.Login,
		URL:         r.Obs.URL,
		AvatarURL:   r.Obs.AvatarURL,
		FirstSeenAt: r.FirstSeen,
		LastSeenAt:  r.LastSeen,
	}
	if prev == nil {
		return next
	}
	next.Login = coalesce(prev.Login, next.Login)
	next.URL = coalesce(prev.URL, next.URL)
	next.AvatarURL = coalesce(prev.AvatarURL, next.AvatarURL)
	next.FirstSeenAt = minTime(prev.FirstSeenAt, next.FirstSeenAt)
	next.LastSeenAt = maxTime(prev.LastSeenAt, next.LastSeenAt)
	return next
}

// override is the within-batch rule: a later known value replaces the
// current one.
func override[T any](cur, cand *T) *T {
	if cand != nil {
		return cand
	}
	return cur
}

// coalesce is the cross-batch rule: the stored known value stands.
func coalesce[T any](prev, next *T) *T {
	if prev != nil {
		return prev
	}
	return next
}

func bounds(first, last, at time.Time) (time.Time, time.Time) {
	if at.Before(first) {
		first = at
	}
	if at.After(last) {
		last = at
	}
	return first, last
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

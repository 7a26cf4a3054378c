package event

import (
	"strings"

	"github.com/strata-etl/strata/api"
)

// ExtractActor projects a raw record into an actor observation. Returns
// false when the record has no actor id, or no parseable timestamp to
// anchor first/last seen bounds.
func ExtractActor(rec *api.RawRecord) (ActorObservation, bool) {
	actor, ok := rec.Payload["actor"].(map[string]any)
	if !ok {
		return ActorObservation{}, false
	}
	id, ok := intValue(actor, "id")
	if !ok {
		return ActorObservation{}, false
	}
	at, ok := ParseCreatedAt(rec.CreatedAt)
	if !ok {
		return ActorObservation{}, false
	}
	return ActorObservation{
		ID:           id,
		Login:        strValue(actor, "login"),
		DisplayLogin: strValue(actor, "display_login"),
		URL:          strValue(actor, "url"),
		Type:         strValue(actor, "type"),
		SiteAdmin:    boolValue(actor, "site_admin"),
		AvatarURL:    strValue(actor, "avatar_url"),
		GravatarID:   strValue(actor, "gravatar_id"),
		ObservedAt:   at,
	}, true
}

// ExtractRepository projects a raw record into a repository observation.
// Owner login and short name are derived by splitting the full name on "/".
func ExtractRepository(rec *api.RawRecord) (RepoObservation, bool) {
	repo, ok := rec.Payload["repo"].(map[string]any)
	if !ok {
		return RepoObservation{}, false
	}
	id, ok := intValue(repo, "id")
	if !ok {
		return RepoObservation{}, false
	}
	at, ok := ParseCreatedAt(rec.CreatedAt)
	if !ok {
		return RepoObservation{}, false
	}
	obs := RepoObservation{
		ID:         id,
		Name:       strValue(repo, "name"),
		URL:        strValue(repo, "url"),
		ObservedAt: at,
	}
	if obs.Name != nil {
		if owner, short, found := strings.Cut(*obs.Name, "/"); found {
			obs.OwnerLogin = &owner
			obs.ShortName = &short
		} else {
			obs.ShortName = obs.Name
		}
	}
	return obs, true
}

// ExtractOrganization projects a raw record into an organization observation.
// Most events carry no org object; those yield false.
func ExtractOrganization(rec *api.RawRecord) (OrgObservation, bool) {
	org, ok := rec.Payload["org"].(map[string]any)
	if !ok {
		return OrgObservation{}, false
	}
	id, ok := intValue(org, "id")
	if !ok {
		return OrgObservation{}, false
	}
	at, ok := ParseCreatedAt(rec.CreatedAt)
	if !ok {
		return OrgObservation{}, false
	}
	return OrgObservation{
		ID:         id,
		Login:      strValue(org, "login"),
		URL:        strValue(org, "url"),
		AvatarURL:  strValue(org, "avatar_url"),
		ObservedAt: at,
	}, true
}

// ExtractEvent builds the silver fact row for a record. Returns false when
// the record lacks an event id, actor id, repo id or a parseable timestamp.
// public defaults to true when absent from the raw record.
func ExtractEvent(rec *api.RawRecord) (api.NormalizedEvent, bool) {
	if rec.EventID == "" {
		return api.NormalizedEvent{}, false
	}
	createdAt, ok := ParseCreatedAt(rec.CreatedAt)
	if !ok {
		return api.NormalizedEvent{}, false
	}
	actor, _ := rec.Payload["actor"].(map[string]any)
	actorID, ok := intValue(actor, "id")
	if !ok {
		return api.NormalizedEvent{}, false
	}
	repo, _ := rec.Payload["repo"].(map[string]any)
	repoID, ok := intValue(repo, "id")
	if !ok {
		return api.NormalizedEvent{}, false
	}

	ev := api.NormalizedEvent{
		EventHash:  rec.Fingerprint,
		EventID:    rec.EventID,
		EventType:  rec.EventType,
		CreatedAt:  createdAt,
		ActorID:    actorID,
		RepoID:     repoID,
		Public:     true,
		HourBucket: HourBucket(createdAt),
	}
	if login := strValue(actor, "login"); login != nil {
		ev.IsBot = IsBotLogin(*login)
	}
	if pub := boolValue(rec.Payload, "public"); pub != nil {
		ev.Public = *pub
	}
	if org, ok := rec.Payload["org"].(map[string]any); ok {
		if orgID, ok := intValue(org, "id"); ok {
			ev.OrgID = &orgID
		}
	}
	return ev, true
}

// strValue returns a pointer to the string at key, nil if absent or empty.
func strValue(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	if s, ok := m[key].(string); ok && s != "" {
		return &s
	}
	return nil
}

// intValue handles both int64 and float64, which is how JSON numbers arrive
// depending on the parser's integer detection.
func intValue(m map[string]any, key string) (int64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func boolValue(m map[string]any, key string) *bool {
	if m == nil {
		return nil
	}
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

package merge

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/strata-etl/strata/api"
	"github.com/strata-etl/strata/internal/event"
	"github.com/strata-etl/strata/internal/store"
)

// maxCASAttempts bounds the optimistic retry loop per entity. The arena
// already serializes same-key merges within this process, so conflicts only
// come from other processes sharing the store; a handful of re-reads covers
// that without spinning on a persistently broken store.
const maxCASAttempts = 5

// EntityStore is the slice of the silver store the applier needs.
type EntityStore interface {
	GetActor(ctx context.Context, id int64) (*api.Actor, int64, error)
	UpsertActor(ctx context.Context, a api.Actor, prevVersion int64) error
	GetRepository(ctx context.Context, id int64) (*api.Repository, int64, error)
	UpsertRepository(ctx context.Context, r api.Repository, prevVersion int64) error
	GetOrganization(ctx context.Context, id int64) (*api.Organization, int64, error)
	UpsertOrganization(ctx context.Context, o api.Organization, prevVersion int64) error
}

// Applier merges observation batches into the silver store, one logical
// upsert per identity key.
type Applier struct {
	store EntityStore
	arena KeyArena

	// OnConflict is invoked once per optimistic retry, for instrumentation.
	OnConflict func()
}

func NewApplier(s EntityStore) *Applier {
	return &Applier{store: s}
}

// ApplyActors groups the batch by actor id and merges each group.
func (ap *Applier) ApplyActors(ctx context.Context, obs []event.ActorObservation) error {
	groups := make(map[int64][]event.ActorObservation)
	for _, o := range obs {
		groups[o.ID] = append(groups[o.ID], o)
	}
	for id, group := range groups {
		resolved := ResolveActors(group)
		err := ap.arena.Do("actor/"+strconv.FormatInt(id, 10), func() error {
			return ap.retry(func() error {
				prev, version, err := ap.store.GetActor(ctx, id)
				if err != nil {
					return err
				}
				return ap.store.UpsertActor(ctx, MergeActor(prev, resolved), version)
			})
		})
		if err != nil {
			return fmt.Errorf("merge actor %d: %w", id, err)
		}
	}
	return nil
}

// ApplyRepos groups the batch by repository id and merges each group.
func (ap *Applier) ApplyRepos(ctx context.Context, obs []event.RepoObservation) error {
	groups := make(map[int64][]event.RepoObservation)
	for _, o := range obs {
		groups[o.ID] = append(groups[o.ID], o)
	}
	for id, group := range groups {
		resolved := ResolveRepos(group)
		err := ap.arena.Do("repo/"+strconv.FormatInt(id, 10), func() error {
			return ap.retry(func() error {
				prev, version, err := ap.store.GetRepository(ctx, id)
				if err != nil {
					return err
				}
				return ap.store.UpsertRepository(ctx, MergeRepository(prev, resolved), version)
			})
		})
		if err != nil {
			return fmt.Errorf("merge repository %d: %w", id, err)
		}
	}
	return nil
}

// ApplyOrgs groups the batch by organization id and merges each group.
func (ap *Applier) ApplyOrgs(ctx context.Context, obs []event.OrgObservation) error {
	groups := make(map[int64][]event.OrgObservation)
	for _, o := range obs {
		groups[o.ID] = append(groups[o.ID], o)
	}
	for id, group := range groups {
		resolved := ResolveOrgs(group)
		err := ap.arena.Do("org/"+strconv.FormatInt(id, 10), func() error {
			return ap.retry(func() error {
				prev, version, err := ap.store.GetOrganization(ctx, id)
				if err != nil {
					return err
				}
				return ap.store.UpsertOrganization(ctx, MergeOrganization(prev, resolved), version)
			})
		})
		if err != nil {
			return fmt.Errorf("merge organization %d: %w", id, err)
		}
	}
	return nil
}

// retry re-runs fn with freshly re-read state on version conflicts.
func (ap *Applier) retry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		if ap.OnConflict != nil {
			ap.OnConflict()
		}
	}
	return fmt.Errorf("optimistic retries exhausted: %w", err)
}

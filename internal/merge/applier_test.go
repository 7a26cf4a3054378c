package merge

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-etl/strata/api"
	"github.com/strata-etl/strata/internal/event"
	"github.com/strata-etl/strata/internal/store"
)

// fakeStore is an in-memory EntityStore with injectable version conflicts.
type fakeStore struct {
	mu sync.Mutex

	actors   map[int64]api.Actor
	repos    map[int64]api.Repository
	orgs     map[int64]api.Organization
	versions map[string]int64

	// forceConflicts makes the next N actor upserts fail with a version
	// conflict regardless of the supplied version.
	forceConflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actors:   make(map[int64]api.Actor),
		repos:    make(map[int64]api.Repository),
		orgs:     make(map[int64]api.Organization),
		versions: make(map[string]int64),
	}
}

func (f *fakeStore) GetActor(_ context.Context, id int64) (*api.Actor, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return nil, 0, nil
	}
	return &a, f.versions[key("actor", id)], nil
}

func (f *fakeStore) UpsertActor(_ context.Context, a api.Actor, prevVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forceConflicts > 0 {
		f.forceConflicts--
		return store.ErrVersionConflict
	}
	if err := f.checkVersion(key("actor", a.ID), prevVersion); err != nil {
		return err
	}
	f.actors[a.ID] = a
	return nil
}

func (f *fakeStore) GetRepository(_ context.Context, id int64) (*api.Repository, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[id]
	if !ok {
		return nil, 0, nil
	}
	return &r, f.versions[key("repo", id)], nil
}

func (f *fakeStore) UpsertRepository(_ context.Context, r api.Repository, prevVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkVersion(key("repo", r.ID), prevVersion); err != nil {
		return err
	}
	f.repos[r.ID] = r
	return nil
}

func (f *fakeStore) GetOrganization(_ context.Context, id int64) (*api.Organization, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orgs[id]
	if !ok {
		return nil, 0, nil
	}
	return &o, f.versions[key("org", id)], nil
}

func (f *fakeStore) UpsertOrganization(_ context.Context, o api.Organization, prevVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkVersion(key("org", o.ID), prevVersion); err != nil {
		return err
	}
	f.orgs[o.ID] = o
	return nil
}

func (f *fakeStore) checkVersion(k string, prev int64) error {
	if f.versions[k] != prev {
		return store.ErrVersionConflict
	}
	f.versions[k] = prev + 1
	return nil
}

func key(kind string, id int64) string {
	return kind + "/" + strconv.FormatInt(id, 10)
}

func TestApplyActorsGroupsByID(t *testing.T) {
	fs := newFakeStore()
	ap := NewApplier(fs)
	ctx := context.Background()

	err := ap.ApplyActors(ctx, []event.ActorObservation{
		{ID: 1, Login: strp("alice"), ObservedAt: at(10)},
		{ID: 2, Login: strp("bob"), ObservedAt: at(11)},
		{ID: 1, Type: strp("User"), ObservedAt: at(12)},
	})
	require.NoError(t, err)

	assert.Len(t, fs.actors, 2)
	alice := fs.actors[1]
	assert.Equal(t, "alice", *alice.Login)
	assert.Equal(t, "User", *alice.Type)
	assert.Equal(t, at(10), alice.FirstSeenAt)
	assert.Equal(t, at(12), alice.LastSeenAt)
}

func TestApplyActorsIdempotent(t *testing.T) {
	fs := newFakeStore()
	ap := NewApplier(fs)
	ctx := context.Background()

	obs := []event.ActorObservation{
		{ID: 1, Login: strp("alice"), SiteAdmin: boolp(true), ObservedAt: at(10)},
	}
	require.NoError(t, ap.ApplyActors(ctx, obs))
	first := fs.actors[1]

	require.NoError(t, ap.ApplyActors(ctx, obs))
	assert.Equal(t, first, fs.actors[1])
}

func TestApplyActorsRetriesOnConflict(t *testing.T) {
	fs := newFakeStore()
	ap := NewApplier(fs)
	conflicts := 0
	ap.OnConflict = func() { conflicts++ }
	ctx := context.Background()

	fs.forceConflicts = 2
	err := ap.ApplyActors(ctx, []event.ActorObservation{
		{ID: 1, Login: strp("alice"), ObservedAt: at(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, conflicts)
	assert.Equal(t, "alice", *fs.actors[1].Login)
}

func TestApplyActorsGivesUpAfterMaxRetries(t *testing.T) {
	fs := newFakeStore()
	ap := NewApplier(fs)
	ctx := context.Background()

	fs.forceConflicts = maxCASAttempts + 1
	err := ap.ApplyActors(ctx, []event.ActorObservation{
		{ID: 1, Login: strp("alice"), ObservedAt: at(10)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestApplyReposAndOrgs(t *testing.T) {
	fs := newFakeStore()
	ap := NewApplier(fs)
	ctx := context.Background()

	require.NoError(t, ap.ApplyRepos(ctx, []event.RepoObservation{
		{ID: 7, Name: strp("octo/widgets"), OwnerLogin: strp("octo"), ObservedAt: at(10)},
	}))
	require.NoError(t, ap.ApplyOrgs(ctx, []event.OrgObservation{
		{ID: 42, Login: strp("octo-org"), ObservedAt: at(10)},
	}))

	assert.Equal(t, "octo/widgets", *fs.repos[7].Name)
	assert.Equal(t, "octo-org", *fs.orgs[42].Login)
}

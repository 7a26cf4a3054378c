package cmd

import (
	"context"

	"github.com/strata-etl/strata/api"
	"github.com/strata-etl/strata/internal/event"
)

// nopApplier and nopSink discard silver output for bronze-only runs.
type nopApplier struct{}

func (nopApplier) ApplyActors(context.Context, []event.ActorObservation) error { return nil }
func (nopApplier) ApplyRepos(context.Context, []event.RepoObservation) error   { return nil }
func (nopApplier) ApplyOrgs(context.Context, []event.OrgObservation) error     { return nil }

type nopSink struct{}

func (nopSink) InsertEvent(context.Context, api.NormalizedEvent) (bool, error) { return false, nil }
func (nopSink) InsertFact(context.Context, api.PayloadFact) (bool, error)      { return false, nil }

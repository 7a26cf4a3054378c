package pipeline

import (
	"context"

	"github.com/strata-etl/strata/api"
)

// rebuildChunk bounds how many bronze records are extracted before their
// observations are merged, keeping memory independent of table size.
const rebuildChunk = 5000

// BronzeScanner is the read side of the raw record table.
type BronzeScanner interface {
	Scan(ctx context.Context, sourceFile string, fn func(*api.RawRecord) error) error
}

// Rebuild re-derives the silver layer from the committed bronze records.
// Safe to run any number of times: extraction is pure and the merge is
// idempotent. This is the recovery path for a crash that landed between a
// bronze append and the silver merge, and for backfilling fields that were
// previously unextractable.
func (s *Scheduler) Rebuild(ctx context.Context, bronze BronzeScanner) (*Report, error) {
	rep := &Report{}
	var b batch

	flush := func() error {
		if err := s.applySilver(ctx, &b); err != nil {
			return err
		}
		rep.Ingested += int64(len(b.events))
		b = batch{}
		return nil
	}

	err := bronze.Scan(ctx, "", func(rec *api.RawRecord) error {
		s.extract(rec, &b)
		if len(b.events) >= rebuildChunk {
			return flush()
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	if err := flush(); err != nil {
		return rep, err
	}
	s.log.WithField("events", rep.Ingested).Info("silver rebuild finished")
	return rep, nil
}

// Package pipeline drives archive files through decode, dedup, extraction
// and merge. Storage is injected through narrow interfaces so the scheduler
// tests run against in-memory fakes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/strata-etl/strata/api"
	"github.com/strata-etl/strata/internal/archive"
	"github.com/strata-etl/strata/internal/event"
	"github.com/strata-etl/strata/internal/metrics"
	"github.com/strata-etl/strata/internal/store"
)

// offsetFlushEvery is how many appended records go by between advisory
// offset-bitmap flushes for crash resume.
const offsetFlushEvery = 1000

// ArchiveSource lists and opens archive files.
type ArchiveSource interface {
	List() ([]string, error)
	Open(fileID string) (io.ReadCloser, error)
}

// BronzeStore is the append side of the raw record table.
type BronzeStore interface {
	Append(ctx context.Context, rec *api.RawRecord) error
}

// CheckpointStore tracks per-file processing state.
type CheckpointStore interface {
	Claim(ctx context.Context, fileID string) (bool, error)
	Complete(ctx context.Context, fileID string) error
	Fail(ctx context.Context, fileID string) error
	Offsets(ctx context.Context, fileID string) (*roaring.Bitmap, error)
	MarkOffsets(ctx context.Context, fileID string, bm *roaring.Bitmap) error
}

// EventSink receives normalized events and payload facts.
type EventSink interface {
	InsertEvent(ctx context.Context, ev api.NormalizedEvent) (bool, error)
	InsertFact(ctx context.Context, f api.PayloadFact) (bool, error)
}

// Applier merges entity observation batches into the silver store.
type Applier interface {
	ApplyActors(ctx context.Context, obs []event.ActorObservation) error
	ApplyRepos(ctx context.Context, obs []event.RepoObservation) error
	ApplyOrgs(ctx context.Context, obs []event.OrgObservation) error
}

// Options bound the scheduler's concurrency and retry behavior.
type Options struct {
	Workers     int
	MaxRetries  int
	FileTimeout time.Duration
}

// Report is what a completed run tells the operator.
type Report struct {
	RunID          string        `json:"run_id"`
	Ingested       int64         `json:"ingested"`
	Duplicates     int64         `json:"duplicates"`
	Skipped        int64         `json:"skipped"`
	FilesCompleted int           `json:"files_completed"`
	FilesSkipped   int           `json:"files_skipped"`
	FailedFiles    []string      `json:"failed_files,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Scheduler fans archive files out across bounded-concurrency workers.
type Scheduler struct {
	src         ArchiveSource
	bronze      BronzeStore
	checkpoints CheckpointStore
	applier     Applier
	events      EventSink
	opts        Options
	log         *logrus.Entry
}

func NewScheduler(src ArchiveSource, bronze BronzeStore, cp CheckpointStore, applier Applier, events EventSink, opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FileTimeout <= 0 {
		opts.FileTimeout = 10 * time.Minute
	}
	return &Scheduler{
		src:         src,
		bronze:      bronze,
		checkpoints: cp,
		applier:     applier,
		events:      events,
		opts:        opts,
		log:         logrus.WithField("component", "scheduler"),
	}
}

// Run processes the given archive files. File-level failures are contained:
// they land in the report, not in the returned error. Run only errors when
// the context is cancelled or a storage-layer operation makes continuing
// pointless.
func (s *Scheduler) Run(ctx context.Context, fileIDs []string) (*Report, error) {
	rep := &Report{RunID: uuid.NewString()}
	start := time.Now()
	log := s.log.WithField("run_id", rep.RunID)
	log.WithField("files", len(fileIDs)).Info("run started")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, fileID := range fileIDs {
		fileID := fileID
		g.Go(func() error {
			outcome, c, err := s.processWithRetry(gctx, fileID)
			if err != nil {
				return err
			}
			mu.Lock()
			rep.Ingested += c.ingested
			rep.Duplicates += c.duplicates
			rep.Skipped += c.skipped
			switch outcome {
			case outcomeCompleted:
				rep.FilesCompleted++
			case outcomeSkipped:
				rep.FilesSkipped++
			case outcomeFailed:
				rep.FailedFiles = append(rep.FailedFiles, fileID)
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	rep.Elapsed = time.Since(start)

	log.WithFields(logrus.Fields{
		"ingested":   rep.Ingested,
		"duplicates": rep.Duplicates,
		"skipped":    rep.Skipped,
		"completed":  rep.FilesCompleted,
		"failed":     len(rep.FailedFiles),
		"elapsed":    rep.Elapsed,
	}).Info("run finished")
	if err != nil {
		return rep, err
	}
	return rep, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSkipped
	outcomeFailed
)

type counters struct {
	ingested   int64
	duplicates int64
	skipped    int64
}

func (s *Scheduler) processWithRetry(ctx context.Context, fileID string) (outcome, counters, error) {
	log := s.log.WithField("file", fileID)

	claimed, err := s.checkpoints.Claim(ctx, fileID)
	if err != nil {
		return 0, counters{}, fmt.Errorf("claim %s: %w", fileID, err)
	}
	if !claimed {
		log.Debug("already processed, skipping")
		return outcomeSkipped, counters{}, nil
	}

	var total counters
	op := func() error {
		// Each attempt re-reads the whole file, so only the last attempt's
		// counters describe the final state; summing would double-count a
		// record as ingested on one attempt and duplicate on the next.
		c, err := s.processFile(ctx, fileID)
		total = c
		return err
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.MaxRetries)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("wait", wait).Warn("file failed, retrying")
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-file: leave the checkpoint in-progress so a
			// restart resumes it.
			return 0, total, ctx.Err()
		}
		log.WithError(err).Error("file failed permanently")
		if ferr := s.checkpoints.Fail(ctx, fileID); ferr != nil {
			return 0, total, fmt.Errorf("mark %s failed: %w", fileID, ferr)
		}
		metrics.FilesFailed.Inc()
		return outcomeFailed, total, nil
	}

	if err := s.checkpoints.Complete(ctx, fileID); err != nil {
		return 0, total, fmt.Errorf("mark %s complete: %w", fileID, err)
	}
	metrics.FilesCompleted.Inc()
	log.WithFields(logrus.Fields{
		"ingested":   total.ingested,
		"duplicates": total.duplicates,
		"skipped":    total.skipped,
	}).Info("file complete")
	return outcomeCompleted, total, nil
}

// batch is the per-file local aggregation handed to the merge engine.
type batch struct {
	actors []event.ActorObservation
	repos  []event.RepoObservation
	orgs   []event.OrgObservation
	events []api.NormalizedEvent
	facts  []api.PayloadFact
}

// processFile runs one archive end-to-end: decode, bronze append with dedup,
// extraction, then the per-type merges and event inserts. Duplicate lines
// skip the append but still flow into extraction, so a retried file replays
// its full silver batch.
func (s *Scheduler) processFile(ctx context.Context, fileID string) (counters, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FileTimeout)
	defer cancel()

	metrics.FilesInFlight.Inc()
	defer metrics.FilesInFlight.Dec()
	timer := time.Now()
	defer func() { metrics.FileDuration.Observe(time.Since(timer).Seconds()) }()

	committed, err := s.checkpoints.Offsets(ctx, fileID)
	if err != nil {
		return counters{}, err
	}

	rc, err := s.src.Open(fileID)
	if err != nil {
		return counters{}, fmt.Errorf("open %s: %w", fileID, err)
	}
	defer func() { _ = rc.Close() }()

	var c counters
	var b batch
	sinceFlush := 0

	skip := func(line uint32, err error) {
		c.skipped++
		metrics.RecordsSkipped.Inc()
		s.log.WithField("file", fileID).WithField("line", line).WithError(err).Debug("skipped malformed line")
	}

	decodeErr := archive.Decode(rc, fileID, func(line uint32, rec *api.RawRecord) error {
		if committed.Contains(line) {
			// Resume path: this line's bronze append already happened, but
			// its silver merge may not have. Extraction is pure and the
			// merge is idempotent, so feed it into the batch again.
			c.duplicates++
			metrics.RecordsDuplicate.Inc()
			s.extract(rec, &b)
			return nil
		}
		if err := s.bronze.Append(ctx, rec); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				c.duplicates++
				metrics.RecordsDuplicate.Inc()
				s.extract(rec, &b)
				return nil
			}
			return err
		}
		c.ingested++
		metrics.RecordsIngested.Inc()
		committed.Add(line)
		sinceFlush++
		if sinceFlush >= offsetFlushEvery {
			sinceFlush = 0
			if err := s.checkpoints.MarkOffsets(ctx, fileID, committed); err != nil {
				return err
			}
		}

		s.extract(rec, &b)
		return nil
	}, skip)
	if decodeErr != nil {
		// Best effort: remember what got committed so the retry skips it.
		_ = s.checkpoints.MarkOffsets(ctx, fileID, committed)
		return c, decodeErr
	}

	if err := s.applySilver(ctx, &b); err != nil {
		_ = s.checkpoints.MarkOffsets(ctx, fileID, committed)
		return c, err
	}
	return c, nil
}

func (s *Scheduler) extract(rec *api.RawRecord, b *batch) {
	if obs, ok := event.ExtractActor(rec); ok {
		b.actors = append(b.actors, obs)
	}
	if obs, ok := event.ExtractRepository(rec); ok {
		b.repos = append(b.repos, obs)
	}
	if obs, ok := event.ExtractOrganization(rec); ok {
		b.orgs = append(b.orgs, obs)
	}
	if ev, ok := event.ExtractEvent(rec); ok {
		b.events = append(b.events, ev)
	}
	if fact, ok := event.ExtractFact(rec); ok {
		b.facts = append(b.facts, fact)
	}
}

func (s *Scheduler) applySilver(ctx context.Context, b *batch) error {
	if err := s.applier.ApplyActors(ctx, b.actors); err != nil {
		return err
	}
	if err := s.applier.ApplyRepos(ctx, b.repos); err != nil {
		return err
	}
	if err := s.applier.ApplyOrgs(ctx, b.orgs); err != nil {
		return err
	}
	for _, ev := range b.events {
		if _, err := s.events.InsertEvent(ctx, ev); err != nil {
			return err
		}
	}
	for _, f := range b.facts {
		if _, err := s.events.InsertFact(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

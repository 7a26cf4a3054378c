package tests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-etl/strata/internal/archive"
	"github.com/strata-etl/strata/internal/gold"
	"github.com/strata-etl/strata/internal/merge"
	"github.com/strata-etl/strata/internal/pipeline"
	"github.com/strata-etl/strata/internal/store"
)

// testFixture bundles the shared state for integration tests: an archive
// directory on a real filesystem, both databases, and a fully wired
// scheduler identical to what the run command builds.
type testFixture struct {
	archiveDir  string
	bronze      *store.Bronze
	checkpoints *store.Checkpoints
	silver      *store.Silver
	sched       *pipeline.Scheduler
}

// setup creates the temp archive directory and wires a scheduler against
// fresh bronze and silver databases.
func setup(t *testing.T) *testFixture {
	t.Helper()
	dir := t.TempDir()

	bronzeDB, err := store.Open(filepath.Join(dir, "bronze.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bronzeDB.Close() })
	silverDB, err := store.Open(filepath.Join(dir, "silver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = silverDB.Close() })

	bronze, err := store.NewBronze(bronzeDB)
	require.NoError(t, err)
	checkpoints, err := store.NewCheckpoints(bronzeDB)
	require.NoError(t, err)
	silver, err := store.NewSilver(silverDB)
	require.NoError(t, err)

	archiveDir := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(archiveDir, 0o755))

	src := archive.NewSource(osfs.New(archiveDir), ".")
	sched := pipeline.NewScheduler(src, bronze, checkpoints, merge.NewApplier(silver), silver,
		pipeline.Options{Workers: 4, MaxRetries: 1, FileTimeout: time.Minute})

	return &testFixture{
		archiveDir:  archiveDir,
		bronze:      bronze,
		checkpoints: checkpoints,
		silver:      silver,
		sched:       sched,
	}
}

func (f *testFixture) writeArchive(t *testing.T, fileID string, lines ...string) {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	for _, l := range lines {
		_, err := gw.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, gw.Close())
	require.NoError(t, os.WriteFile(
		filepath.Join(f.archiveDir, fileID+".json.gz"), buf.Bytes(), 0o644))
}

func (f *testFixture) run(t *testing.T) *pipeline.Report {
	t.Helper()
	src := archive.NewSource(osfs.New(f.archiveDir), ".")
	files, err := src.List()
	require.NoError(t, err)
	rep, err := f.sched.Run(context.Background(), files)
	require.NoError(t, err)
	return rep
}

const (
	hour15push = `{"id":"1001","type":"PushEvent","created_at":"2023-04-01T15:10:00Z","actor":{"id":1,"login":"alice"},"repo":{"id":7,"name":"octo/widgets"},"org":{"id":42,"login":"octo-org"},"payload":{"ref":"refs/heads/main","size":2,"distinct_size":2,"head":"aaa111","before":"bbb222"}}`
	hour15bot  = `{"id":"1002","type":"PushEvent","created_at":"2023-04-01T15:20:00Z","actor":{"id":9,"login":"renovate[bot]"},"repo":{"id":7,"name":"octo/widgets"},"payload":{"size":1}}`
	hour16pr   = `{"id":"1003","type":"PullRequestEvent","created_at":"2023-04-01T16:05:00Z","actor":{"id":1,"login":"alice","type":"User"},"repo":{"id":8,"name":"octo/gears"},"payload":{"action":"closed","number":34,"pull_request":{"id":7007,"merged":true}}}`
	hour16star = `{"id":"1004","type":"WatchEvent","created_at":"2023-04-01T16:30:00Z","actor":{"id":2,"login":"bob"},"repo":{"id":7,"name":"octo/widgets"},"payload":{"action":"started"}}`
)

func TestPipelineEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writeArchive(t, "2023-04-01-15", hour15push, hour15bot, "{garbage")
	f.writeArchive(t, "2023-04-01-16", hour16pr, hour16star)

	rep := f.run(t)
	assert.Equal(t, int64(4), rep.Ingested)
	assert.Equal(t, int64(1), rep.Skipped)
	assert.Equal(t, 2, rep.FilesCompleted)
	assert.Empty(t, rep.FailedFiles)

	t.Run("entities merged across files", func(t *testing.T) {
		alice, _, err := f.silver.GetActor(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, alice)
		assert.Equal(t, "alice", *alice.Login)
		// the hour-16 observation filled in the type
		require.NotNil(t, alice.Type)
		assert.Equal(t, "User", *alice.Type)
		assert.Equal(t, time.Date(2023, 4, 1, 15, 10, 0, 0, time.UTC), alice.FirstSeenAt)
		assert.Equal(t, time.Date(2023, 4, 1, 16, 5, 0, 0, time.UTC), alice.LastSeenAt)
	})

	t.Run("gold aggregations", func(t *testing.T) {
		ag := gold.NewAggregator(f.silver.DB())

		counts, err := ag.EventTypeCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []gold.TypeCount{
			{EventType: "PushEvent", Count: 2},
			{EventType: "PullRequestEvent", Count: 1},
			{EventType: "WatchEvent", Count: 1},
		}, counts)

		hours, err := ag.HourlySummaries(ctx)
		require.NoError(t, err)
		require.Len(t, hours, 2)
		assert.Equal(t, "2023-04-01-15", hours[0].HourBucket)
		assert.Equal(t, int64(1), hours[0].BotEvents)
		assert.Equal(t, int64(2), hours[1].TotalEvents)
	})

	t.Run("reprocessing is a no-op", func(t *testing.T) {
		before, err := f.bronze.Count(ctx)
		require.NoError(t, err)

		rep := f.run(t)
		assert.Equal(t, int64(0), rep.Ingested)
		assert.Equal(t, 2, rep.FilesSkipped)

		after, err := f.bronze.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("new archive picks up where the run left off", func(t *testing.T) {
		// hour-15 push redelivered inside the new file dedups away
		f.writeArchive(t, "2023-04-01-17",
			hour15push,
			`{"id":"1005","type":"ForkEvent","created_at":"2023-04-01T17:00:00Z","actor":{"id":2,"login":"bob"},"repo":{"id":8,"name":"octo/gears"}}`)

		rep := f.run(t)
		assert.Equal(t, int64(1), rep.Ingested)
		assert.Equal(t, int64(1), rep.Duplicates)
		assert.Equal(t, 1, rep.FilesCompleted)
		assert.Equal(t, 2, rep.FilesSkipped)

		events, err := f.silver.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), events)
	})

	t.Run("silver rebuild from bronze converges", func(t *testing.T) {
		before, err := f.silver.CountEvents(ctx)
		require.NoError(t, err)

		rebuilt, err := f.sched.Rebuild(ctx, f.bronze)
		require.NoError(t, err)
		assert.Equal(t, before, rebuilt.Ingested)

		after, err := f.silver.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCheckpoints(t *testing.T) *Checkpoints {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "bronze.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c, err := NewCheckpoints(db)
	require.NoError(t, err)
	return c
}

func TestCheckpointLifecycle(t *testing.T) {
	c := openCheckpoints(t)
	ctx := context.Background()

	// unseen files are pending
	st, err := c.Status(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)

	ok, err := c.Claim(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	st, err = c.Status(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	// re-claiming an in-progress file is the crash-resume path
	ok, err = c.Claim(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Complete(ctx, "f1"))
	st, err = c.Status(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, st)

	// complete files can no longer be claimed
	ok, err = c.Claim(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointFailAndReset(t *testing.T) {
	c := openCheckpoints(t)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "f1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Fail(ctx, "f1"))

	ok, err = c.Claim(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok, "failed files stay out of rotation")

	n, err := c.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err = c.Claim(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	states, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "f1", states[0].FileID)
	assert.Equal(t, StatusInProgress, states[0].Status)
	assert.Equal(t, 1, states[0].Attempts)
}

func TestCheckpointOffsets(t *testing.T) {
	c := openCheckpoints(t)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "f1")
	require.NoError(t, err)
	require.True(t, ok)

	// no bitmap stored yet
	bm, err := c.Offsets(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())

	// same for files never claimed
	bm, err = c.Offsets(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())

	want := roaring.BitmapOf(0, 1, 2, 500, 9999)
	require.NoError(t, c.MarkOffsets(ctx, "f1", want))

	bm, err = c.Offsets(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, bm.Equals(want))

	// completion drops the bitmap
	require.NoError(t, c.Complete(ctx, "f1"))
	bm, err = c.Offsets(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())
}

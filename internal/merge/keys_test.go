package merge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyArenaSerializesSameKey(t *testing.T) {
	var arena KeyArena
	const goroutines = 32

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = arena.Do("actor/1", func() error {
				// unsynchronized read-modify-write: only safe if Do
				// serializes callers sharing the key
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, goroutines, counter)
}

func TestKeyArenaPropagatesError(t *testing.T) {
	var arena KeyArena
	err := arena.Do("k", func() error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)

	// the key stays usable after a failed merge
	require.NoError(t, arena.Do("k", func() error { return nil }))
}

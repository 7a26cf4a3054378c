package merge

import "sync"

// KeyArena serializes work per identity key. Merges for the same key from
// different workers run one at a time; disjoint keys proceed in parallel
// with no global lock. Locks are never evicted — the map is bounded by the
// number of distinct entities touched in one process lifetime.
type KeyArena struct {
	locks sync.Map // key string -> *sync.Mutex
}

// Do runs fn while holding the lock for key.
func (a *KeyArena) Do(key string, fn func() error) error {
	v, _ := a.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

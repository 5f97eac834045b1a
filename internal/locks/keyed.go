// Package locks provides per-key mutual exclusion for in-process writers.
package locks

import (
	"fmt"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key and forgets keys nobody holds.
// The zero value is ready to use.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// Lock blocks until the caller owns key and returns the release func.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*entry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// held returns the number of keys currently held or awaited.
func (k *Keyed) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// JobKey is the key label and promotion writers use for one extraction job.
func JobKey(id fmt.Stringer) string {
	return "job:" + id.String()
}

package sweep

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
)

// keyLocks hands out one exclusive lock per key. An entry lives only while
// someone holds or waits for it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// lock blocks until key is free or ctx is done. The returned func releases it.
func (k *keyLocks) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()

	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = entry
	}

	entry.refs++
	k.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		k.forget(key, entry)

		return nil, errors.Wrapf(err, "waiting for %s", key)
	}

	return func() {
		entry.sem.Release(1)
		k.forget(key, entry)
	}, nil
}

func (k *keyLocks) forget(key string, entry *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}

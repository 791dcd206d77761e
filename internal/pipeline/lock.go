package pipeline

import (
	"sync"
	"sync/atomic"
)

// repoLock provides non-blocking lock semantics using atomic operations.
type repoLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

func (l *repoLock) tryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

func (l *repoLock) release() {
	l.state.Store(0)
}

// RepoLocks hands out one try-lock per repository ID so two indexing
// runs for the same repository never interleave. Locks for distinct
// repositories are independent.
type RepoLocks struct {
	locks sync.Map // repoID -> *repoLock
}

// TryAcquire attempts to acquire the lock for repoID without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (r *RepoLocks) TryAcquire(repoID string) bool {
	v, _ := r.locks.LoadOrStore(repoID, &repoLock{})
	return v.(*repoLock).tryAcquire()
}

// Release releases the lock for repoID.
// Must only be called by the goroutine that successfully acquired it.
func (r *RepoLocks) Release(repoID string) {
	if v, ok := r.locks.Load(repoID); ok {
		v.(*repoLock).release()
	}
}

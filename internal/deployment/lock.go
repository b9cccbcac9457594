package deployment

import "sync"

// EnvLocks keeps one in-process lock per environment so a deploy, promote
// or restore of an environment never overlaps another one in the same
// process. Different environments do not block each other.
type EnvLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEnvLocks creates an empty lock set.
func NewEnvLocks() *EnvLocks {
	return &EnvLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock acquires the lock of env without blocking and reports whether it
// succeeded.
func (l *EnvLocks) TryLock(env string) bool {
	l.mu.Lock()
	lock, exists := l.locks[env]
	if !exists {
		lock = &sync.Mutex{}
		l.locks[env] = lock
	}
	l.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the lock of env. Unknown environments are ignored.
func (l *EnvLocks) Unlock(env string) {
	l.mu.Lock()
	lock := l.locks[env]
	l.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}

// Package runlock provides a thread and process-safe lock used by the
// run-directory builder to refuse to reuse an existing job_id: two racing
// builders for the same job_id must not both believe they created the run
// directory.
package runlock

import (
	"math/rand"
	"sync"
	"time"

	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
)

// ErrAlreadyLocked is returned when the lock we're trying to lock is already
// locked.
var ErrAlreadyLocked = errors.New("this lock is already held within this process")

// ErrNotLocked is returned when the lock we're trying to unlock is not locked.
var ErrNotLocked = errors.New("unlock called on unlocked lock")

// ErrNotOurLock is returned when the lock we're trying to unlock is locked by
// another thread.
var ErrNotOurLock = errors.New("this lock is being held within the process")

type registry struct {
	*sync.Mutex
	paths map[string]int64
}

func newRegistry() *registry {
	return &registry{
		Mutex: &sync.Mutex{},
		paths: make(map[string]int64),
	}
}

var globalRegistry = newRegistry()

var rnd = rand.New(rand.NewSource(time.Now().UnixNano()))

// Lock is a thread and process-safe file lock. It combines an OS-level file
// lock with an in-process mutex so that it functions safely both across and
// within processes.
type Lock struct {
	id       int64
	fileLock lockfile.Lockfile
	path     string
}

// New creates a new Lock backed by the file at path.
func New(path string) (*Lock, error) {
	f, err := lockfile.New(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating lockfile handle")
	}

	return &Lock{
		id:       rnd.Int63(),
		fileLock: f,
		path:     path,
	}, nil
}

// TryLock attempts to acquire the lock, failing immediately if it is held.
func (l *Lock) TryLock() error {
	// Always lock the registry (thread) lock before the file (process) lock,
	// to avoid deadlocks; release in the opposite order.
	globalRegistry.Lock()
	defer globalRegistry.Unlock()

	if _, ok := globalRegistry.paths[l.path]; ok {
		return ErrAlreadyLocked
	}

	if err := l.fileLock.TryLock(); err != nil {
		return errors.Wrap(err, "could not acquire file lock")
	}

	globalRegistry.paths[l.path] = l.id
	return nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	globalRegistry.Lock()
	defer globalRegistry.Unlock()

	id, ok := globalRegistry.paths[l.path]
	if !ok {
		return ErrNotLocked
	}
	if id != l.id {
		return ErrNotOurLock
	}

	if err := l.fileLock.Unlock(); err != nil {
		return errors.Wrap(err, "failed to relinquish file lock")
	}

	delete(globalRegistry.paths, l.path)
	return nil
}

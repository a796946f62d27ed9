package file

import "sync"

// PathLocker hands out one mutex per destination path. Entries are
// reference counted and dropped once no holder or waiter remains.
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

// NewPathLocker creates an empty PathLocker.
func NewPathLocker() *PathLocker {
	return &PathLocker{locks: make(map[string]*pathLock)}
}

// Lock blocks until path is free and returns the matching unlock function.
func (l *PathLocker) Lock(path string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[path]
	if !ok {
		pl = &pathLock{}
		l.locks[path] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			pl.Unlock()

			l.mu.Lock()
			pl.refs--
			if pl.refs == 0 {
				delete(l.locks, path)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of paths currently held or waited on.
func (l *PathLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

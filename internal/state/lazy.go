package state

import "sync"

// LazyStore defers Open until a run is first saved or read, so a run
// that aborts before the lock leaves the state directory untouched.
// A failed open is remembered and returned by every later call.
type LazyStore struct {
	stateDir string

	mu    sync.Mutex
	store *Store
	err   error
}

// NewLazyStore returns a store for stateDir without touching the disk
func NewLazyStore(stateDir string) *LazyStore {
	return &LazyStore{stateDir: stateDir}
}

func (l *LazyStore) open() (*Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil && l.err == nil {
		l.store, l.err = Open(l.stateDir)
	}
	return l.store, l.err
}

// Opened reports whether the database has been opened
func (l *LazyStore) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store != nil
}

// SaveRun opens the store if needed and records the run
func (l *LazyStore) SaveRun(record RunRecord) (int64, error) {
	store, err := l.open()
	if err != nil {
		return 0, err
	}
	return store.SaveRun(record)
}

// History opens the store if needed and returns the pair's recent runs
func (l *LazyStore) History(stableID string, limit int) ([]RunRecord, error) {
	store, err := l.open()
	if err != nil {
		return nil, err
	}
	return store.History(stableID, limit)
}

// Close closes the database if it was ever opened
func (l *LazyStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}

package service

import "sync"

// RefLocks keeps at most one ingestion per repository ID within this process.
// The store's one-active-job rule covers other processes sharing it.
type RefLocks struct {
	mu   sync.Mutex
	held map[string]string // repository ID -> job ID
}

// NewRefLocks creates an empty lock table.
func NewRefLocks() *RefLocks {
	return &RefLocks{held: make(map[string]string)}
}

// TryLock claims repoID for jobID. It reports false, with the holder's job
// ID, when another job already holds it.
func (l *RefLocks) TryLock(repoID, jobID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.held[repoID]; ok {
		return holder, false
	}
	l.held[repoID] = jobID
	return "", true
}

// Unlock releases repoID if jobID still holds it.
func (l *RefLocks) Unlock(repoID, jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[repoID] == jobID {
		delete(l.held, repoID)
	}
}

// Holder returns the job currently holding repoID.
func (l *RefLocks) Holder(repoID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.held[repoID]
	return id, ok
}

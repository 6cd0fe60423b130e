package scheduler

import "sync"

// accountLocks enforces at-most-one-concurrent-sync-per-account: a job that
// cannot acquire its account's slot skips the run instead of queueing behind
// it, since the in-flight sync already covers the same data.
type accountLocks struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{inFlight: make(map[string]struct{})}
}

// TryAcquire claims the account's slot. Returns false if a sync is already
// in flight for it.
func (l *accountLocks) TryAcquire(accountID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.inFlight[accountID]; held {
		return false
	}
	l.inFlight[accountID] = struct{}{}
	return true
}

// Release frees the account's slot.
func (l *accountLocks) Release(accountID string) {
	l.mu.Lock()
	delete(l.inFlight, accountID)
	l.mu.Unlock()
}

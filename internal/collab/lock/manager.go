// Package lock implements the single-writer lock lifecycle over the
// document store: acquire, renew-by-reacquire, release, and timeout-based
// reclaim of abandoned locks.
//
// Valid transitions: UNLOCKED -> LOCKED(holder) on Acquire;
// LOCKED(holder) -> UNLOCKED on Release by holder/owner or on expiry;
// LOCKED(holder) -> LOCKED(holder) on re-Acquire by the holder (renewal).
// An Acquire against a live foreign lock is rejected, never queued.
package lock

import (
	"context"
	"time"

	"github.com/scrolluniversity/doc-service/internal/collab"
	"github.com/scrolluniversity/doc-service/internal/collab/store"
)

// Manager enforces the lock state machine. Expiry is computed lazily at
// acquire/read time; the periodic sweep (ReclaimAll) is cleanup, not
// correctness.
type Manager struct {
	store   store.Store
	timeout time.Duration

	// now is swappable in tests to drive expiry without sleeping
	now func() time.Time
}

func NewManager(s store.Store, timeout time.Duration) *Manager {
	return &Manager{store: s, timeout: timeout, now: time.Now}
}

// WithClock replaces the manager's time source. Expiry behavior can then
// be driven deterministically instead of by sleeping.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Timeout returns the configured lock lifetime.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Cutoff returns the instant before which an acquiredAt stamp means the
// lock is expired, as of now.
func (m *Manager) Cutoff() time.Time { return m.now().Add(-m.timeout) }

// IsExpired reports whether l has outlived the timeout. A nil lock is
// expired by definition.
func (m *Manager) IsExpired(l *collab.Lock) bool {
	return l.ExpiredAt(m.now(), m.timeout)
}

// Acquire grants the lock to callerID, reclaiming an expired lock in the
// same step. Re-acquiring a lock the caller already holds refreshes
// acquiredAt. A live lock held by someone else fails with ErrAlreadyLocked.
func (m *Manager) Acquire(ctx context.Context, docID, callerID string) (*collab.Document, error) {
	now := m.now()
	return m.store.SetLock(ctx, docID, callerID, now, now.Add(-m.timeout))
}

// Release clears the lock if callerID holds it; privileged callers (group
// owners) clear it unconditionally. Fails with ErrNotLockHolder otherwise.
func (m *Manager) Release(ctx context.Context, docID, callerID string, privileged bool) (*collab.Document, error) {
	return m.store.ClearLock(ctx, docID, callerID, privileged)
}

// ReclaimExpired clears docID's lock if it has expired, unblocking future
// acquirers without the original holder's cooperation.
func (m *Manager) ReclaimExpired(ctx context.Context, docID string) (bool, error) {
	return m.store.ReclaimExpired(ctx, docID, m.Cutoff())
}

// ReclaimAll sweeps every document with an expired lock and clears it,
// returning how many were reclaimed. Intended to run on a recurring
// schedule so an abandoned lock never blocks editors longer than one
// timeout plus one sweep interval.
func (m *Manager) ReclaimAll(ctx context.Context) (int, error) {
	cutoff := m.Cutoff()
	ids, err := m.store.ListExpiredLocks(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, id := range ids {
		ok, err := m.store.ReclaimExpired(ctx, id, cutoff)
		if err != nil {
			return reclaimed, err
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, nil
}

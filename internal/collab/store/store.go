package store

import (
	"context"
	"time"

	"github.com/scrolluniversity/doc-service/internal/collab"
)

// Update carries one atomic content-update request into the store.
// LockCutoff is the instant before which an existing lock counts as
// expired; the store itself holds no timeout policy.
type Update struct {
	DocID       string
	CallerID    string
	NewContent  string
	Title       *string
	AcquireLock bool
	Now         time.Time
	LockCutoff  time.Time
}

// Store is the serialization boundary for a document's state: the version
// store and the edit log share one implementation because an edit record
// must commit in the same atomic unit as the version bump it describes.
//
// Implementations guarantee that two concurrent ApplyUpdate calls for the
// same document never both commit the same resulting version, and never
// contend across different documents.
type Store interface {
	Create(ctx context.Context, doc *collab.Document) (string, error)
	Get(ctx context.Context, id string) (*collab.Document, error)
	ListByGroup(ctx context.Context, groupID string) ([]*collab.Document, error)

	// ApplyUpdate performs the atomic check-lock, replace-content,
	// bump-version, set/clear-lock, append-edit sequence. A live lock held
	// by someone other than the caller yields collab.ErrDocumentLocked
	// with no state change. Contention between unlocked writers resolves
	// last-writer-wins; collab.ErrVersionConflict escapes only when the
	// internal retry budget is exhausted.
	ApplyUpdate(ctx context.Context, u Update) (*collab.Document, error)

	// SetLock grants or refreshes the lock for holder, succeeding when the
	// document is unlocked, already held by holder, or held by an expired
	// lock (which is reclaimed in the same step). A live foreign lock
	// yields collab.ErrAlreadyLocked.
	SetLock(ctx context.Context, id, holder string, now, cutoff time.Time) (*collab.Document, error)

	// ClearLock releases the lock when held by holder, or unconditionally
	// when force is set. Yields collab.ErrNotLockHolder otherwise.
	ClearLock(ctx context.Context, id, holder string, force bool) (*collab.Document, error)

	// ReclaimExpired clears the document's lock if it expired before
	// cutoff. Reports whether a lock was actually cleared.
	ReclaimExpired(ctx context.Context, id string, cutoff time.Time) (bool, error)

	// ListExpiredLocks returns ids of documents whose lock expired before
	// cutoff; input for the periodic sweep.
	ListExpiredLocks(ctx context.Context, cutoff time.Time) ([]string, error)

	// Delete removes the document record. Idempotent: deleting an absent
	// document is not an error. Edit history is left in place.
	Delete(ctx context.Context, id string) error

	// History returns edit records ordered by version descending, at most
	// limit entries, restricted to versions strictly below beforeVersion
	// when beforeVersion > 0. Stateless between calls.
	History(ctx context.Context, docID string, limit int64, beforeVersion int64) ([]*collab.EditRecord, error)

	// ArchiveEditPayload swaps an edit record's inline payloads for an
	// object-storage key. Used by the retention archiver only.
	ArchiveEditPayload(ctx context.Context, docID string, version int64, key string) error
}

// Package service is the public façade over the document store, the lock
// manager and the membership boundary. All authorization decisions happen
// here; the layers below trust their callers.
package service

import (
	"context"
	"time"

	"github.com/scrolluniversity/doc-service/internal/collab"
	"github.com/scrolluniversity/doc-service/internal/collab/lock"
	"github.com/scrolluniversity/doc-service/internal/collab/store"
	"github.com/scrolluniversity/doc-service/internal/membership"
	"github.com/scrolluniversity/doc-service/internal/presence"
	"github.com/scrolluniversity/doc-service/pkg/logger"
	"github.com/scrolluniversity/doc-service/pkg/metrics"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Options tunes the coordinator. Zero values fall back to sane defaults.
type Options struct {
	// StorageRetries bounds internal retries of transient storage
	// failures. Authorization, not-found and contention errors are never
	// retried.
	StorageRetries int
	RetryBackoff   time.Duration
}

type Service struct {
	store    store.Store
	locks    *lock.Manager
	members  membership.Service
	presence *presence.Tracker // optional; nil disables presence mirroring

	retries int
	backoff time.Duration
	now     func() time.Time
}

func New(s store.Store, lm *lock.Manager, m membership.Service, p *presence.Tracker, opts Options) *Service {
	if opts.StorageRetries <= 0 {
		opts.StorageRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	return &Service{
		store:    s,
		locks:    lm,
		members:  m,
		presence: p,
		retries:  opts.StorageRetries,
		backoff:  opts.RetryBackoff,
		now:      time.Now,
	}
}

// requireMember fails with ErrNotAMember when callerID is not in groupID.
func (s *Service) requireMember(ctx context.Context, groupID, callerID string) error {
	ok, err := s.members.IsMember(ctx, groupID, callerID)
	if err != nil {
		return &collab.StorageError{Op: "membership check", Err: err}
	}
	if !ok {
		return collab.ErrNotAMember
	}
	return nil
}

// view masks an expired lock so callers never observe one as held.
func (s *Service) view(d *collab.Document) *collab.Document {
	if d != nil && d.Lock != nil && d.Lock.ExpiredAt(s.now(), s.locks.Timeout()) {
		cp := *d
		cp.Lock = nil
		return &cp
	}
	return d
}

func (s *Service) CreateDocument(ctx context.Context, callerID, groupID, title, content string) (*collab.Document, error) {
	if err := s.requireMember(ctx, groupID, callerID); err != nil {
		return nil, err
	}
	doc := &collab.Document{
		GroupID:      groupID,
		Title:        title,
		Content:      content,
		Version:      0,
		CreatedBy:    callerID,
		LastEditedBy: callerID,
	}
	var id string
	err := s.withRetry(ctx, "create document", func() error {
		var err error
		id, err = s.store.Create(ctx, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	doc.ID = id
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, callerID, docID string) (*collab.Document, error) {
	doc, err := s.getWithRetry(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, doc.GroupID, callerID); err != nil {
		return nil, err
	}
	return s.view(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, callerID, groupID string) ([]*collab.Document, error) {
	if err := s.requireMember(ctx, groupID, callerID); err != nil {
		return nil, err
	}
	var docs []*collab.Document
	err := s.withRetry(ctx, "list documents", func() error {
		var err error
		docs, err = s.store.ListByGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, d := range docs {
		docs[i] = s.view(d)
	}
	return docs, nil
}

// UpdateDocument commits a new content revision. With acquireLock the
// caller keeps (or takes) the single-writer lock; otherwise any lock the
// caller held is released along with the commit. A live lock held by a
// different editor fails the update with ErrDocumentLocked and no state
// change.
func (s *Service) UpdateDocument(ctx context.Context, callerID, docID, newContent string, title *string, acquireLock bool) (*collab.Document, int64, error) {
	doc, err := s.getWithRetry(ctx, docID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.requireMember(ctx, doc.GroupID, callerID); err != nil {
		return nil, 0, err
	}

	now := s.now()
	var updated *collab.Document
	err = s.withRetry(ctx, "apply update", func() error {
		var err error
		updated, err = s.store.ApplyUpdate(ctx, store.Update{
			DocID:       docID,
			CallerID:    callerID,
			NewContent:  newContent,
			Title:       title,
			AcquireLock: acquireLock,
			Now:         now,
			LockCutoff:  now.Add(-s.locks.Timeout()),
		})
		return err
	})
	if err != nil {
		switch err {
		case collab.ErrDocumentLocked:
			metrics.LockContention.WithLabelValues("update").Inc()
			metrics.DocumentUpdates.WithLabelValues("locked").Inc()
		case collab.ErrVersionConflict:
			metrics.VersionConflicts.Inc()
			metrics.DocumentUpdates.WithLabelValues("conflict").Inc()
		default:
			metrics.DocumentUpdates.WithLabelValues("error").Inc()
		}
		return nil, 0, err
	}
	metrics.DocumentUpdates.WithLabelValues("committed").Inc()

	s.mirrorPresence(ctx, docID, callerID, acquireLock, now)
	return updated, updated.Version, nil
}

func (s *Service) LockDocument(ctx context.Context, callerID, docID string) (*collab.Document, error) {
	doc, err := s.getWithRetry(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, doc.GroupID, callerID); err != nil {
		return nil, err
	}
	locked, err := s.locks.Acquire(ctx, docID, callerID)
	if err != nil {
		if err == collab.ErrAlreadyLocked {
			metrics.LockContention.WithLabelValues("lock").Inc()
		}
		return nil, err
	}
	s.mirrorPresence(ctx, docID, callerID, true, s.now())
	return locked, nil
}

func (s *Service) UnlockDocument(ctx context.Context, callerID, docID string) (*collab.Document, error) {
	doc, err := s.getWithRetry(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, doc.GroupID, callerID); err != nil {
		return nil, err
	}
	role, err := s.members.RoleOf(ctx, doc.GroupID, callerID)
	if err != nil {
		return nil, &collab.StorageError{Op: "role check", Err: err}
	}
	unlocked, err := s.locks.Release(ctx, docID, callerID, role == membership.RoleOwner)
	if err != nil {
		return nil, err
	}
	s.mirrorPresence(ctx, docID, callerID, false, s.now())
	return unlocked, nil
}

func (s *Service) GetHistory(ctx context.Context, callerID, docID string, limit int64, beforeVersion int64) ([]*collab.EditRecord, error) {
	doc, err := s.getWithRetry(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, doc.GroupID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var recs []*collab.EditRecord
	err = s.withRetry(ctx, "read history", func() error {
		var err error
		recs, err = s.store.History(ctx, docID, limit, beforeVersion)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteDocument removes the document. Only its creator or a group owner
// may delete; history rows are left behind for the retention archiver.
// Deleting an already-deleted document succeeds.
func (s *Service) DeleteDocument(ctx context.Context, callerID, docID string) error {
	doc, err := s.getWithRetry(ctx, docID)
	if err != nil {
		if err == collab.ErrNotFound {
			return nil
		}
		return err
	}
	if doc.CreatedBy != callerID {
		role, err := s.members.RoleOf(ctx, doc.GroupID, callerID)
		if err != nil {
			return &collab.StorageError{Op: "role check", Err: err}
		}
		if role != membership.RoleOwner {
			return collab.ErrNotAuthorized
		}
	}
	if err := s.withRetry(ctx, "delete document", func() error { return s.store.Delete(ctx, docID) }); err != nil {
		return err
	}
	s.mirrorPresence(ctx, docID, callerID, false, s.now())
	return nil
}

// ReclaimExpiredLocks is the recurring maintenance sweep.
func (s *Service) ReclaimExpiredLocks(ctx context.Context) (int, error) {
	n, err := s.locks.ReclaimAll(ctx)
	if n > 0 {
		metrics.LocksReclaimed.Add(float64(n))
		logger.Infof("reclaimed %d expired document locks", n)
	}
	return n, err
}

// mirrorPresence keeps the Redis "someone is editing" marker in sync with
// the durable lock. Failures are logged and swallowed: presence is UX,
// never correctness.
func (s *Service) mirrorPresence(ctx context.Context, docID, callerID string, editing bool, now time.Time) {
	if s.presence == nil {
		return
	}
	var err error
	if editing {
		err = s.presence.Mark(ctx, docID, callerID, now)
	} else {
		err = s.presence.Clear(ctx, docID)
	}
	if err != nil {
		logger.Warnf("presence update for %s failed: %v", docID, err)
	}
}

func (s *Service) getWithRetry(ctx context.Context, docID string) (*collab.Document, error) {
	var doc *collab.Document
	err := s.withRetry(ctx, "get document", func() error {
		var err error
		doc, err = s.store.Get(ctx, docID)
		return err
	})
	return doc, err
}

// withRetry re-runs fn on transient storage failures with linear backoff.
// Deterministic errors pass through on the first attempt.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
			logger.Debugf("retrying %s (attempt %d): %v", op, attempt+1, last)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !collab.IsStorage(err) {
			return err
		}
		last = err
	}
	return last
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/scrolluniversity/doc-service/internal/collab"
)

// MemoryStore keeps documents and their edit logs in process memory. Used
// for unit tests and local development without a Mongo instance.
//
// Each document carries its own mutex so updates to different documents
// never serialize against each other; the outer map lock is only taken
// long enough to look an entry up.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*docEntry
}

type docEntry struct {
	mu      sync.Mutex
	doc     collab.Document
	edits   []collab.EditRecord
	deleted bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*docEntry)}
}

func (m *MemoryStore) entry(id string) *docEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[id]
	if !ok || e.deleted {
		return nil
	}
	return e
}

func (m *MemoryStore) Create(ctx context.Context, doc *collab.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = "doc_" + time.Now().Format("20060102T150405.000000000")
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	e := &docEntry{doc: *doc}
	m.docs[doc.ID] = e
	return doc.ID, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*collab.Document, error) {
	e := m.entry(id)
	if e == nil {
		return nil, collab.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneDoc(&e.doc), nil
}

func (m *MemoryStore) ListByGroup(ctx context.Context, groupID string) ([]*collab.Document, error) {
	m.mu.RLock()
	entries := make([]*docEntry, 0, len(m.docs))
	for _, e := range m.docs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := []*collab.Document{}
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && e.doc.GroupID == groupID {
			out = append(out, cloneDoc(&e.doc))
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (m *MemoryStore) ApplyUpdate(ctx context.Context, u Update) (*collab.Document, error) {
	e := m.entry(u.DocID)
	if e == nil {
		return nil, collab.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, collab.ErrNotFound
	}
	if l := e.doc.Lock; l != nil && !l.AcquiredAt.Before(u.LockCutoff) && l.Holder != u.CallerID {
		return nil, collab.ErrDocumentLocked
	}

	prev := e.doc.Content
	e.doc.Version++
	e.doc.Content = u.NewContent
	if u.Title != nil {
		e.doc.Title = *u.Title
	}
	e.doc.LastEditedBy = u.CallerID
	e.doc.UpdatedAt = u.Now
	if u.AcquireLock {
		e.doc.Lock = &collab.Lock{Holder: u.CallerID, AcquiredAt: u.Now}
	} else {
		e.doc.Lock = nil
	}
	e.edits = append(e.edits, collab.EditRecord{
		DocumentID:  e.doc.ID,
		Version:     e.doc.Version,
		AuthorID:    u.CallerID,
		PrevContent: prev,
		NewContent:  u.NewContent,
		Timestamp:   u.Now,
	})
	return cloneDoc(&e.doc), nil
}

func (m *MemoryStore) SetLock(ctx context.Context, id, holder string, now, cutoff time.Time) (*collab.Document, error) {
	e := m.entry(id)
	if e == nil {
		return nil, collab.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, collab.ErrNotFound
	}
	if l := e.doc.Lock; l != nil && !l.AcquiredAt.Before(cutoff) && l.Holder != holder {
		return nil, collab.ErrAlreadyLocked
	}
	e.doc.Lock = &collab.Lock{Holder: holder, AcquiredAt: now}
	return cloneDoc(&e.doc), nil
}

func (m *MemoryStore) ClearLock(ctx context.Context, id, holder string, force bool) (*collab.Document, error) {
	e := m.entry(id)
	if e == nil {
		return nil, collab.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, collab.ErrNotFound
	}
	if !force && (e.doc.Lock == nil || e.doc.Lock.Holder != holder) {
		return nil, collab.ErrNotLockHolder
	}
	e.doc.Lock = nil
	return cloneDoc(&e.doc), nil
}

func (m *MemoryStore) ReclaimExpired(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	e := m.entry(id)
	if e == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc.Lock != nil && e.doc.Lock.AcquiredAt.Before(cutoff) {
		e.doc.Lock = nil
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) ListExpiredLocks(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	entries := make([]*docEntry, 0, len(m.docs))
	for _, e := range m.docs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var ids []string
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && e.doc.Lock != nil && e.doc.Lock.AcquiredAt.Before(cutoff) {
			ids = append(ids, e.doc.ID)
		}
		e.mu.Unlock()
	}
	return ids, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.docs[id]; ok {
		// keep the entry so history stays readable; mark the doc gone
		e.deleted = true
	}
	return nil
}

func (m *MemoryStore) History(ctx context.Context, docID string, limit int64, beforeVersion int64) ([]*collab.EditRecord, error) {
	m.mu.RLock()
	e, ok := m.docs[docID]
	m.mu.RUnlock()
	if !ok {
		return []*collab.EditRecord{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []*collab.EditRecord{}
	for i := len(e.edits) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		rec := e.edits[i]
		if beforeVersion > 0 && rec.Version >= beforeVersion {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (m *MemoryStore) ArchiveEditPayload(ctx context.Context, docID string, version int64, key string) error {
	m.mu.RLock()
	e, ok := m.docs[docID]
	m.mu.RUnlock()
	if !ok {
		return collab.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.edits {
		if e.edits[i].Version == version {
			e.edits[i].ArchiveKey = key
			e.edits[i].PrevContent = ""
			e.edits[i].NewContent = ""
			return nil
		}
	}
	return collab.ErrNotFound
}

func cloneDoc(d *collab.Document) *collab.Document {
	cp := *d
	if d.Lock != nil {
		l := *d.Lock
		cp.Lock = &l
	}
	return &cp
}

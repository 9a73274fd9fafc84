package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrolluniversity/doc-service/internal/collab"
)

func newTestDoc() *collab.Document {
	return &collab.Document{
		GroupID:      "grp-1",
		Title:        "notes.md",
		Content:      "Hello",
		CreatedBy:    "alice",
		LastEditedBy: "alice",
	}
}

func applyParams(id, caller, content string, acquire bool) Update {
	now := time.Now()
	return Update{
		DocID:       id,
		CallerID:    caller,
		NewContent:  content,
		AcquireLock: acquire,
		Now:         now,
		LockCutoff:  now.Add(-30 * time.Minute),
	}
}

func TestMemoryStoreCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Hello", got.Content)
	require.EqualValues(t, 0, got.Version)
	require.Nil(t, got.Lock)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	require.ErrorIs(t, err, collab.ErrNotFound)

	// idempotent
	require.NoError(t, s.Delete(ctx, id))
}

func TestMemoryStoreVersionsAreGapless(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.ApplyUpdate(ctx, applyParams(id, "alice", "rev", false))
		require.NoError(t, err)
	}

	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 3, doc.Version)

	recs, err := s.History(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		require.EqualValues(t, 3-i, rec.Version, "history must be version-descending with no gaps")
	}
}

func TestMemoryStoreUpdateRespectsForeignLock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	// alice takes the lock via update
	doc, err := s.ApplyUpdate(ctx, applyParams(id, "alice", "Hello world", true))
	require.NoError(t, err)
	require.EqualValues(t, 1, doc.Version)
	require.NotNil(t, doc.Lock)
	require.Equal(t, "alice", doc.Lock.Holder)

	// bob is rejected without side effects
	_, err = s.ApplyUpdate(ctx, applyParams(id, "bob", "Hi", false))
	require.ErrorIs(t, err, collab.ErrDocumentLocked)

	doc, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, doc.Version)
	require.Equal(t, "Hello world", doc.Content)

	recs, err := s.History(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1, "failed update must not append history")

	// the holder may keep editing and then release via acquireLock=false
	doc, err = s.ApplyUpdate(ctx, applyParams(id, "alice", "Hello again", false))
	require.NoError(t, err)
	require.EqualValues(t, 2, doc.Version)
	require.Nil(t, doc.Lock)
}

func TestMemoryStoreExpiredLockIsIgnored(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	_, err = s.SetLock(ctx, id, "alice", stale, stale.Add(-30*time.Minute))
	require.NoError(t, err)

	// bob updates straight through the expired lock
	doc, err := s.ApplyUpdate(ctx, applyParams(id, "bob", "New text", true))
	require.NoError(t, err)
	require.EqualValues(t, 1, doc.Version)
	require.Equal(t, "bob", doc.Lock.Holder)
}

func TestMemoryStoreSetAndClearLock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	now := time.Now()
	cutoff := now.Add(-30 * time.Minute)

	doc, err := s.SetLock(ctx, id, "alice", now, cutoff)
	require.NoError(t, err)
	require.Equal(t, "alice", doc.Lock.Holder)

	// a different caller is rejected while the lock is live
	_, err = s.SetLock(ctx, id, "bob", now, cutoff)
	require.ErrorIs(t, err, collab.ErrAlreadyLocked)

	// re-acquire by the holder refreshes acquiredAt
	later := now.Add(time.Minute)
	doc, err = s.SetLock(ctx, id, "alice", later, later.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, later, doc.Lock.AcquiredAt)

	// only the holder (or force) may clear
	_, err = s.ClearLock(ctx, id, "bob", false)
	require.ErrorIs(t, err, collab.ErrNotLockHolder)

	doc, err = s.ClearLock(ctx, id, "bob", true)
	require.NoError(t, err)
	require.Nil(t, doc.Lock)
}

func TestMemoryStoreReclaimExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	_, err = s.SetLock(ctx, id, "alice", stale, stale.Add(-time.Minute))
	require.NoError(t, err)

	cutoff := time.Now().Add(-30 * time.Minute)
	ids, err := s.ListExpiredLocks(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)

	cleared, err := s.ReclaimExpired(ctx, id, cutoff)
	require.NoError(t, err)
	require.True(t, cleared)

	// second reclaim is a no-op
	cleared, err = s.ReclaimExpired(ctx, id, cutoff)
	require.NoError(t, err)
	require.False(t, cleared)

	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, doc.Lock)
}

func TestMemoryStoreConcurrentUpdatesStayOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	const writers = 8
	const perWriter = 5
	errs := make(chan error, writers*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.ApplyUpdate(ctx, applyParams(id, "writer", "content", false))
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, writers*perWriter, doc.Version)

	// every committed version has exactly one history record
	seen := map[int64]bool{}
	before := int64(0)
	for {
		recs, err := s.History(ctx, id, 10, before)
		require.NoError(t, err)
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			require.False(t, seen[rec.Version], "duplicate version %d", rec.Version)
			seen[rec.Version] = true
		}
		before = recs[len(recs)-1].Version
	}
	require.Len(t, seen, writers*perWriter)
}

func TestMemoryStoreHistoryPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.ApplyUpdate(ctx, applyParams(id, "alice", "rev", false))
		require.NoError(t, err)
	}

	page, err := s.History(ctx, id, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.EqualValues(t, 5, page[0].Version)
	require.EqualValues(t, 4, page[1].Version)

	page, err = s.History(ctx, id, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.EqualValues(t, 3, page[0].Version)
	require.EqualValues(t, 2, page[1].Version)
}

func TestMemoryStoreHistorySurvivesDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	_, err = s.ApplyUpdate(ctx, applyParams(id, "alice", "rev1", false))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, id))

	recs, err := s.History(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestMemoryStoreArchiveEditPayload(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.Create(ctx, newTestDoc())
	require.NoError(t, err)

	_, err = s.ApplyUpdate(ctx, applyParams(id, "alice", "rev1", false))
	require.NoError(t, err)

	require.NoError(t, s.ArchiveEditPayload(ctx, id, 1, "edits/x/1.json"))
	recs, err := s.History(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Equal(t, "edits/x/1.json", recs[0].ArchiveKey)
	require.Empty(t, recs[0].NewContent)

	require.ErrorIs(t, s.ArchiveEditPayload(ctx, id, 99, "k"), collab.ErrNotFound)
}

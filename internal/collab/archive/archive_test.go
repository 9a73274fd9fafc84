package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrolluniversity/doc-service/internal/collab"
	"github.com/scrolluniversity/doc-service/internal/collab/store"
)

// mapObjectStore keeps uploaded objects in a map, standing in for MinIO.
type mapObjectStore struct {
	objects map[string][]byte
	puts    int
}

func newMapObjectStore() *mapObjectStore {
	return &mapObjectStore{objects: make(map[string][]byte)}
}

func (m *mapObjectStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[key] = b
	m.puts++
	return nil
}

func (m *mapObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// seedDocument creates a document and applies n updates so versions 1..n
// exist in the edit log.
func seedDocument(t *testing.T, ms *store.MemoryStore, n int) *collab.Document {
	t.Helper()
	ctx := context.Background()
	id, err := ms.Create(ctx, &collab.Document{GroupID: "grp-1", Title: "paper", Content: "v0", CreatedBy: "alice"})
	require.NoError(t, err)
	var doc *collab.Document
	for i := 1; i <= n; i++ {
		doc, err = ms.ApplyUpdate(ctx, store.Update{
			DocID:      id,
			CallerID:   "alice",
			NewContent: fmt.Sprintf("v%d", i),
			Now:        time.Now().UTC(),
			LockCutoff: time.Now().UTC().Add(-30 * time.Minute),
		})
		require.NoError(t, err)
	}
	return doc
}

func TestArchiveDocumentOffloadsOldRecords(t *testing.T) {
	ms := store.NewMemoryStore()
	objects := newMapObjectStore()
	doc := seedDocument(t, ms, 5)

	a := New(ms, objects, 2)
	moved, err := a.ArchiveDocument(context.Background(), doc.ID, doc.Version)
	require.NoError(t, err)

	// versions 1..3 fall behind the keep horizon (5 - 2)
	assert.Equal(t, 3, moved)
	assert.Len(t, objects.objects, 3)

	recs, err := ms.History(context.Background(), doc.ID, 100, 0)
	require.NoError(t, err)
	for _, rec := range recs {
		if rec.Version <= 3 {
			assert.NotEmpty(t, rec.ArchiveKey, "version %d should be archived", rec.Version)
		} else {
			assert.Empty(t, rec.ArchiveKey, "version %d should stay inline", rec.Version)
		}
	}
}

func TestArchiveDocumentIsIdempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	objects := newMapObjectStore()
	doc := seedDocument(t, ms, 5)

	a := New(ms, objects, 2)
	_, err := a.ArchiveDocument(context.Background(), doc.ID, doc.Version)
	require.NoError(t, err)
	firstPuts := objects.puts

	moved, err := a.ArchiveDocument(context.Background(), doc.ID, doc.Version)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
	assert.Equal(t, firstPuts, objects.puts, "no re-uploads on a second pass")
}

func TestArchiveDocumentNothingBelowHorizon(t *testing.T) {
	ms := store.NewMemoryStore()
	objects := newMapObjectStore()
	doc := seedDocument(t, ms, 3)

	a := New(ms, objects, 50)
	moved, err := a.ArchiveDocument(context.Background(), doc.ID, doc.Version)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
	assert.Empty(t, objects.objects)
}

func TestLoadResolvesArchivedPayload(t *testing.T) {
	ms := store.NewMemoryStore()
	objects := newMapObjectStore()
	doc := seedDocument(t, ms, 5)

	a := New(ms, objects, 2)
	_, err := a.ArchiveDocument(context.Background(), doc.ID, doc.Version)
	require.NoError(t, err)

	recs, err := ms.History(context.Background(), doc.ID, 100, 0)
	require.NoError(t, err)

	for _, rec := range recs {
		prev, next, err := a.Load(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v%d", rec.Version-1), prev)
		assert.Equal(t, fmt.Sprintf("v%d", rec.Version), next)
	}
}

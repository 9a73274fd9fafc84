// Package archive offloads old edit-record payloads to object storage,
// keeping the recent tail of a document's history inline for fast diffs
// while bounding what the edit_log collection carries long term.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/scrolluniversity/doc-service/internal/collab"
	"github.com/scrolluniversity/doc-service/internal/collab/store"
	"github.com/scrolluniversity/doc-service/pkg/logger"
)

// ObjectStore is the slice of the storage client the archiver needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// payload is the JSON body written per archived edit record.
type payload struct {
	PrevContent string `json:"prevContent"`
	NewContent  string `json:"newContent"`
}

// Archiver moves edit payloads older than KeepVersions revisions behind
// the document's current version into the object store, replacing them
// with an archive key.
type Archiver struct {
	store   store.Store
	objects ObjectStore

	// KeepVersions is how many recent revisions stay inline.
	KeepVersions int64
	// batch caps how many records one ArchiveDocument pass touches.
	batch int64
}

func New(s store.Store, o ObjectStore, keepVersions int64) *Archiver {
	if keepVersions <= 0 {
		keepVersions = 50
	}
	return &Archiver{store: s, objects: o, KeepVersions: keepVersions, batch: 100}
}

func objectKey(docID string, version int64) string {
	return fmt.Sprintf("edits/%s/%d.json", docID, version)
}

// ArchiveDocument offloads one batch of archivable records for docID given
// its current version. Returns how many records were moved. Safe to re-run;
// records already carrying an archive key are skipped.
func (a *Archiver) ArchiveDocument(ctx context.Context, docID string, currentVersion int64) (int, error) {
	horizon := currentVersion - a.KeepVersions
	if horizon <= 0 {
		return 0, nil
	}
	// +1: History's beforeVersion bound is exclusive
	recs, err := a.store.History(ctx, docID, a.batch, horizon+1)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, rec := range recs {
		if rec.ArchiveKey != "" {
			continue
		}
		body, err := json.Marshal(payload{PrevContent: rec.PrevContent, NewContent: rec.NewContent})
		if err != nil {
			return moved, err
		}
		key := objectKey(docID, rec.Version)
		if err := a.objects.PutObject(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
			return moved, fmt.Errorf("archive upload %s: %w", key, err)
		}
		if err := a.store.ArchiveEditPayload(ctx, docID, rec.Version, key); err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		logger.Debugf("archived %d edit payloads for %s", moved, docID)
	}
	return moved, nil
}

// Load resolves an edit record's payload, following the archive key when
// the inline body has been offloaded.
func (a *Archiver) Load(ctx context.Context, rec *collab.EditRecord) (prev, next string, err error) {
	if rec.ArchiveKey == "" {
		return rec.PrevContent, rec.NewContent, nil
	}
	rc, err := a.objects.GetObject(ctx, rec.ArchiveKey)
	if err != nil {
		return "", "", err
	}
	defer rc.Close()
	var p payload
	if err := json.NewDecoder(rc).Decode(&p); err != nil {
		return "", "", err
	}
	return p.PrevContent, p.NewContent, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/scrolluniversity/doc-service/internal/collab"
)

// casAttempts bounds the optimistic retry loop in ApplyUpdate. Contention
// between unlocked writers on one document resolves last-writer-wins
// within this budget.
const casAttempts = 5

// MongoStore persists documents in a "documents" collection and edit
// records in an append-only "edit_log" collection. All conditional writes
// go through UpdateOne filters so the version counter acts as the
// compare-and-swap token; no in-process lock is held across I/O.
type MongoStore struct {
	docs  *mongo.Collection
	edits *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	docs := db.Collection("documents")
	edits := db.Collection("edit_log")
	// one edit record per (document, version); groupId index for listings
	edits.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "documentId", Value: 1}, {Key: "version", Value: -1}},
		Options: options.Index().SetUnique(true),
	})
	docs.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "groupId", Value: 1}},
	})
	docs.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "lock.acquiredAt", Value: 1}},
	})
	return &MongoStore{docs: docs, edits: edits}
}

func (s *MongoStore) Create(ctx context.Context, doc *collab.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = "doc_" + time.Now().Format("20060102T150405.000000000")
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if _, err := s.docs.InsertOne(ctx, doc); err != nil {
		return "", &collab.StorageError{Op: "insert document", Err: err}
	}
	return doc.ID, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*collab.Document, error) {
	var d collab.Document
	err := s.docs.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, collab.ErrNotFound
		}
		return nil, &collab.StorageError{Op: "find document", Err: err}
	}
	return &d, nil
}

func (s *MongoStore) ListByGroup(ctx context.Context, groupID string) ([]*collab.Document, error) {
	cur, err := s.docs.Find(ctx, bson.M{"groupId": groupID})
	if err != nil {
		return nil, &collab.StorageError{Op: "list documents", Err: err}
	}
	defer cur.Close(ctx)
	out := []*collab.Document{}
	for cur.Next(ctx) {
		var d collab.Document
		if err := cur.Decode(&d); err != nil {
			return nil, &collab.StorageError{Op: "decode document", Err: err}
		}
		out = append(out, &d)
	}
	return out, nil
}

func (s *MongoStore) ApplyUpdate(ctx context.Context, u Update) (*collab.Document, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, err := s.Get(ctx, u.DocID)
		if err != nil {
			return nil, err
		}
		if l := cur.Lock; l != nil && !l.AcquiredAt.Before(u.LockCutoff) && l.Holder != u.CallerID {
			return nil, collab.ErrDocumentLocked
		}

		next := *cur
		next.Version = cur.Version + 1
		next.Content = u.NewContent
		if u.Title != nil {
			next.Title = *u.Title
		}
		next.LastEditedBy = u.CallerID
		next.UpdatedAt = u.Now

		set := bson.M{
			"content":      next.Content,
			"title":        next.Title,
			"version":      next.Version,
			"lastEditedBy": next.LastEditedBy,
			"updatedAt":    next.UpdatedAt,
		}
		update := bson.M{"$set": set}
		if u.AcquireLock {
			next.Lock = &collab.Lock{Holder: u.CallerID, AcquiredAt: u.Now}
			set["lock"] = next.Lock
		} else {
			next.Lock = nil
			update["$unset"] = bson.M{"lock": ""}
		}

		// CAS: the write lands only if nobody committed since our read
		res, err := s.docs.UpdateOne(ctx, bson.M{"_id": u.DocID, "version": cur.Version}, update)
		if err != nil {
			return nil, &collab.StorageError{Op: "update document", Err: err}
		}
		if res.MatchedCount == 0 {
			// lost the race; re-read and retry (last-writer-wins)
			continue
		}

		rec := collab.EditRecord{
			DocumentID:  u.DocID,
			Version:     next.Version,
			AuthorID:    u.CallerID,
			PrevContent: cur.Content,
			NewContent:  u.NewContent,
			Timestamp:   u.Now,
		}
		if _, err := s.edits.InsertOne(ctx, rec); err != nil {
			// the bump must not be observable without its edit record;
			// compensate by restoring the state we read
			s.rollback(ctx, cur, next.Version)
			return nil, &collab.StorageError{Op: "append edit record", Err: err}
		}
		return &next, nil
	}
	return nil, collab.ErrVersionConflict
}

// rollback restores a document to its pre-update state after a failed edit
// log append. Conditional on the version we just wrote, so an already
// committed later update is never clobbered.
func (s *MongoStore) rollback(ctx context.Context, prev *collab.Document, wroteVersion int64) {
	set := bson.M{
		"content":      prev.Content,
		"title":        prev.Title,
		"version":      prev.Version,
		"lastEditedBy": prev.LastEditedBy,
		"updatedAt":    prev.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if prev.Lock != nil {
		set["lock"] = prev.Lock
	} else {
		update["$unset"] = bson.M{"lock": ""}
	}
	_, _ = s.docs.UpdateOne(ctx, bson.M{"_id": prev.ID, "version": wroteVersion}, update)
}

// liveLockFilter matches documents that are safe for holder to (re)lock:
// no lock, holder's own lock, or a lock expired before cutoff.
func liveLockFilter(id, holder string, cutoff time.Time) bson.M {
	return bson.M{
		"_id": id,
		"$or": []bson.M{
			{"lock": bson.M{"$exists": false}},
			{"lock.holder": holder},
			{"lock.acquiredAt": bson.M{"$lt": cutoff}},
		},
	}
}

func (s *MongoStore) SetLock(ctx context.Context, id, holder string, now, cutoff time.Time) (*collab.Document, error) {
	lock := &collab.Lock{Holder: holder, AcquiredAt: now}
	res, err := s.docs.UpdateOne(ctx, liveLockFilter(id, holder, cutoff), bson.M{"$set": bson.M{"lock": lock}})
	if err != nil {
		return nil, &collab.StorageError{Op: "set lock", Err: err}
	}
	if res.MatchedCount == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, collab.ErrAlreadyLocked
	}
	return s.Get(ctx, id)
}

func (s *MongoStore) ClearLock(ctx context.Context, id, holder string, force bool) (*collab.Document, error) {
	filter := bson.M{"_id": id}
	if !force {
		filter["lock.holder"] = holder
	}
	res, err := s.docs.UpdateOne(ctx, filter, bson.M{"$unset": bson.M{"lock": ""}})
	if err != nil {
		return nil, &collab.StorageError{Op: "clear lock", Err: err}
	}
	if res.MatchedCount == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, collab.ErrNotLockHolder
	}
	return s.Get(ctx, id)
}

func (s *MongoStore) ReclaimExpired(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res, err := s.docs.UpdateOne(ctx,
		bson.M{"_id": id, "lock.acquiredAt": bson.M{"$lt": cutoff}},
		bson.M{"$unset": bson.M{"lock": ""}})
	if err != nil {
		return false, &collab.StorageError{Op: "reclaim lock", Err: err}
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) ListExpiredLocks(ctx context.Context, cutoff time.Time) ([]string, error) {
	cur, err := s.docs.Find(ctx,
		bson.M{"lock.acquiredAt": bson.M{"$lt": cutoff}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, &collab.StorageError{Op: "scan expired locks", Err: err}
	}
	defer cur.Close(ctx)
	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, &collab.StorageError{Op: "decode expired lock", Err: err}
		}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.docs.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return &collab.StorageError{Op: "delete document", Err: err}
	}
	return nil
}

func (s *MongoStore) History(ctx context.Context, docID string, limit int64, beforeVersion int64) ([]*collab.EditRecord, error) {
	filter := bson.M{"documentId": docID}
	if beforeVersion > 0 {
		filter["version"] = bson.M{"$lt": beforeVersion}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "version", Value: -1}}).
		SetLimit(limit)
	cur, err := s.edits.Find(ctx, filter, opts)
	if err != nil {
		return nil, &collab.StorageError{Op: "read history", Err: err}
	}
	defer cur.Close(ctx)
	out := []*collab.EditRecord{}
	for cur.Next(ctx) {
		var r collab.EditRecord
		if err := cur.Decode(&r); err != nil {
			return nil, &collab.StorageError{Op: "decode edit record", Err: err}
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *MongoStore) ArchiveEditPayload(ctx context.Context, docID string, version int64, key string) error {
	res, err := s.edits.UpdateOne(ctx,
		bson.M{"documentId": docID, "version": version},
		bson.M{
			"$set":   bson.M{"archiveKey": key},
			"$unset": bson.M{"prevContent": "", "newContent": ""},
		})
	if err != nil {
		return &collab.StorageError{Op: "archive edit payload", Err: err}
	}
	if res.MatchedCount == 0 {
		return collab.ErrNotFound
	}
	return nil
}

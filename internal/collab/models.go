package collab

import "time"

// Document is the authoritative current state of a shared group document.
// Version increases by exactly 1 on every committed content update; the
// embedded lock is present only while an editor holds exclusive write access.
type Document struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	GroupID      string    `json:"groupId" bson:"groupId"`
	Title        string    `json:"title" bson:"title"`
	Content      string    `json:"content,omitempty" bson:"content"`
	Version      int64     `json:"version" bson:"version"`
	CreatedBy    string    `json:"createdBy" bson:"createdBy"`
	LastEditedBy string    `json:"lastEditedBy" bson:"lastEditedBy"`
	Lock         *Lock     `json:"lock,omitempty" bson:"lock,omitempty"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Lock marks a document as exclusively held. A lock older than the
// configured timeout is treated as absent everywhere, even before it has
// been physically cleared.
type Lock struct {
	Holder     string    `json:"holder" bson:"holder"`
	AcquiredAt time.Time `json:"acquiredAt" bson:"acquiredAt"`
}

// ExpiredAt reports whether the lock has outlived the timeout as of now.
func (l *Lock) ExpiredAt(now time.Time, timeout time.Duration) bool {
	if l == nil {
		return true
	}
	return now.Sub(l.AcquiredAt) > timeout
}

// HeldBy reports whether the lock is live and owned by userID.
func (l *Lock) HeldBy(userID string, now time.Time, timeout time.Duration) bool {
	return l != nil && !l.ExpiredAt(now, timeout) && l.Holder == userID
}

// EditRecord is one immutable entry in a document's append-only history.
// Records for a document are totally ordered by Version, gapless from 1.
type EditRecord struct {
	DocumentID  string    `json:"documentId" bson:"documentId"`
	Version     int64     `json:"version" bson:"version"`
	AuthorID    string    `json:"authorId" bson:"authorId"`
	PrevContent string    `json:"prevContent,omitempty" bson:"prevContent,omitempty"`
	NewContent  string    `json:"newContent,omitempty" bson:"newContent,omitempty"`
	// ArchiveKey replaces the content payloads once the record has been
	// offloaded to object storage by the retention archiver.
	ArchiveKey string    `json:"archiveKey,omitempty" bson:"archiveKey,omitempty"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

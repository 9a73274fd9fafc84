// Package presence mirrors document lock state into Redis so UIs can poll
// "who is editing" cheaply without touching the version store. Advisory
// only: the durable lock on the document record stays authoritative, and
// every call here is best-effort.
package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Editor is the JSON value stored under "editing:<docID>".
type Editor struct {
	UserID  string    `json:"userId"`
	Since   time.Time `json:"since"`
	Expires time.Time `json:"expires"`
}

// Tracker stores editor markers with a TTL matching the lock timeout, so
// an abandoned marker ages out on its own.
type Tracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTracker creates a tracker. Prefix may be empty; it defaults to
// "editing:".
func NewTracker(client *redis.Client, prefix string, ttl time.Duration) *Tracker {
	if prefix == "" {
		prefix = "editing:"
	}
	return &Tracker{client: client, prefix: prefix, ttl: ttl}
}

func (t *Tracker) key(docID string) string { return t.prefix + docID }

// Mark records userID as the active editor of docID.
func (t *Tracker) Mark(ctx context.Context, docID, userID string, since time.Time) error {
	e := Editor{UserID: userID, Since: since, Expires: since.Add(t.ttl)}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, t.key(docID), b, t.ttl).Err()
}

// Clear drops the editor marker for docID.
func (t *Tracker) Clear(ctx context.Context, docID string) error {
	return t.client.Del(ctx, t.key(docID)).Err()
}

// Active returns the current editor of docID, or nil when nobody is
// marked. A marker past its own expiry stamp is deleted and treated as
// missing.
func (t *Tracker) Active(ctx context.Context, docID string) (*Editor, error) {
	b, err := t.client.Get(ctx, t.key(docID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var e Editor
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	if time.Now().UTC().After(e.Expires) {
		_ = t.client.Del(ctx, t.key(docID)).Err()
		return nil, nil
	}
	return &e, nil
}

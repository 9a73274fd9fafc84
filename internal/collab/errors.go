package collab

import "errors"

// Stable error conditions surfaced to calling layers. Callers branch on
// these with errors.Is; handlers map them to distinct HTTP statuses.
var (
	ErrNotFound        = errors.New("document not found")
	ErrNotAMember      = errors.New("caller is not a member of the group")
	ErrNotAuthorized   = errors.New("caller is not authorized for this operation")
	ErrDocumentLocked  = errors.New("document is locked by another editor")
	ErrAlreadyLocked   = errors.New("document is already locked by another editor")
	ErrNotLockHolder   = errors.New("caller does not hold the document lock")
	ErrVersionConflict = errors.New("document version changed concurrently")
)

// StorageError wraps a failure of the durable store. It is the only error
// category the coordinator retries; everything above is deterministic.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

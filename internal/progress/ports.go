package progress

import (
	"context"
	"errors"
)

var (
	// ErrNoSubject is returned when a session is opened without a subject.
	// Without a subject no record can be scoped, so this is fatal to the caller.
	ErrNoSubject = errors.New("progress: subject is required")
	// ErrSubjectMismatch is returned when an operation names another subject.
	ErrSubjectMismatch = errors.New("progress: subject mismatch")
	// ErrNoItem is returned when an operation is called without an item id.
	ErrNoItem = errors.New("progress: item id is required")
)

// Catalog lists the lectures a subject is enrolled in, in display order.
type Catalog interface {
	Items(ctx context.Context, subjectID string) ([]CatalogItem, error)
}

// RemoteStore is the store of record. Upsert must be idempotent under retry
// with an identical payload.
type RemoteStore interface {
	Upsert(ctx context.Context, records []WireRecord) error
	Query(ctx context.Context, subjectID string, itemIDs []string) ([]WireRecord, error)
}

// LocalCache is key-value persistence that survives restarts of the host.
// Get returns nil, nil when the key is absent.
type LocalCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SeekCommand asks the media player to resume at Position seconds.
type SeekCommand struct {
	SubjectID string  `json:"subject_id"`
	ItemID    string  `json:"item_id"`
	Position  float64 `json:"position"`
}

// Player accepts seek commands for the media widget.
type Player interface {
	Seek(ctx context.Context, cmd SeekCommand) error
}

// FlushRequester asks for a flush without waiting for it.
type FlushRequester interface {
	RequestFlush()
}

// CacheKey is the local cache key holding the record set for subjectID.
func CacheKey(subjectID string) string {
	return "progress:v1:" + subjectID
}

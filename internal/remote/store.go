package remote

import (
	"context"
	"time"
)

// Snapshot is the complete result set of a query at one store version.
type Snapshot struct {
	Version  int64      `json:"version"`
	Docs     []Document `json:"docs"`
	ReadTime time.Time  `json:"readTime"`
}

// IDs returns the document ids in result order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s.Docs))
	for i, d := range s.Docs {
		ids[i] = d.ID
	}
	return ids
}

// Listener receives the snapshots of a live query. Exactly one of snap and
// err is meaningful; after an error the listener is not called again.
type Listener func(snap Snapshot, err error)

// CancelFunc stops a live query. It is safe to call more than once.
type CancelFunc func()

// Store is a shared real-time document store.
type Store interface {
	// Get reads one document. A missing document returns ErrNoDocument.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query runs q once.
	Query(ctx context.Context, q Query) (Snapshot, error)

	// Commit applies writes atomically.
	Commit(ctx context.Context, writes ...Write) error

	// Listen starts a live query. The first snapshot is the current result
	// set. The query stops when cancel is called or ctx is done.
	Listen(ctx context.Context, q Query, fn Listener) (CancelFunc, error)
}

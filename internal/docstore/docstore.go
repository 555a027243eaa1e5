// Package docstore is the Session Store contract: JSON documents addressed by
// slash-separated paths, grouped into collections by their parent path, with
// push notifications on every change.
//
// The store gives no cross-document transactions. Update is atomic for a single
// document only. A deleted document leaves a tombstone and can never be created
// again under the same path.
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned for documents that do not exist.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned by Create when the path is taken.
	ErrExists = errors.New("document already exists")
	// ErrGone is returned by Create for a path that was deleted.
	ErrGone = errors.New("document was deleted")
	// ErrUnavailable wraps backend failures that may succeed on retry.
	ErrUnavailable = errors.New("document store unavailable")
)

// Change is pushed to subscribers. Deleted changes carry no data.
type Change struct {
	Path    string
	Data    []byte
	Deleted bool
}

// UpdateFunc computes the next document from the current one.
// Returning nil data leaves the document untouched and publishes nothing.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is implemented by the in-memory and Redis backends.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Create(ctx context.Context, path string, data []byte) error
	// Update applies fn atomically and returns the resulting document.
	Update(ctx context.Context, path string, fn UpdateFunc) ([]byte, error)
	Delete(ctx context.Context, path string) error
	// List returns every document directly under collection, ordered by path.
	List(ctx context.Context, collection string) ([][]byte, error)
	// SubscribeDocument first delivers the current state (Deleted if absent), then every change.
	// The returned function cancels the subscription and closes the channel.
	SubscribeDocument(ctx context.Context, path string) (<-chan Change, func(), error)
	// SubscribeCollection delivers a change for every document written or deleted under collection.
	SubscribeCollection(ctx context.Context, collection string) (<-chan Change, func(), error)
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Parent returns the collection a document path belongs to.
func Parent(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// Deliver pushes change to ch, dropping the oldest queued change when the
// subscriber is slow so the most recent state always gets through.
func Deliver(ch chan Change, change Change) {
	select {
	case ch <- change:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- change:
	default:
	}
}

// SubscriberBuffer is the channel capacity used by every backend.
const SubscriberBuffer = 16

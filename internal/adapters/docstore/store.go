// Package docstore defines the document store contract and errors.
//
// Documents are opaque JSON blobs keyed by (collection, key). Every document
// carries a revision; writes are optimistic compare-and-swap on the revision
// the caller last observed, which is the serialization mechanism the
// consensus apply path relies on. Counter fields use a separate atomic
// increment primitive that needs no revision.
package docstore

import (
	"context"
	"encoding/json"
)

// Revision is a per-document write counter. Revision 0 is "document does not
// exist": passing 0 to Put demands a create.
type Revision uint64

// Document is a raw JSON payload. The store never inspects it.
type Document = json.RawMessage

// Store provides revisioned access to JSON documents in named collections.
type Store interface {
	// Get returns the document and its current revision.
	// Returns ErrNotFound when the key is absent.
	Get(ctx context.Context, collection, key string) (Document, Revision, error)

	// Put writes doc iff the stored revision still equals rev (rev 0 means
	// the document must not exist yet). Returns the new revision, or
	// ErrRevisionMismatch when another writer got there first.
	Put(ctx context.Context, collection, key string, doc Document, rev Revision) (Revision, error)

	// Delete removes the document iff the stored revision still equals rev;
	// rev 0 deletes unconditionally. Deleting an absent key returns
	// ErrNotFound, a revision that moved on ErrRevisionMismatch.
	Delete(ctx context.Context, collection, key string, rev Revision) error

	// Increment atomically adds delta to a counter field of the given
	// document, creating the counter at delta if absent, and returns the
	// new value.
	Increment(ctx context.Context, collection, key, field string, delta int64) (int64, error)

	// List returns up to limit documents from a collection in ascending key
	// order, skipping offset keys. A limit below 1 is ErrInvalidLimit.
	List(ctx context.Context, collection string, offset, limit int) ([]Document, error)

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases backend resources.
	Close() error
}

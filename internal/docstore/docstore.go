package docstore

import (
	"context"
	"errors"
)

// Document is a schemaless record. Values must be JSON-encodable so the
// Postgres backend and the Redis fanout can round-trip them.
type Document map[string]any

// Filter matches documents by equality on top-level fields.
type Filter map[string]any

// Change is a live-query event. Only "added" events are delivered: a change
// fires when a document enters the result set of a subscription's filter,
// either on insert or when an update makes it match.
type Change struct {
	Collection string
	ID         string
	Doc        Document
}

// Subscription is a cancellable stream of changes for one live query.
//
// Delivery is at-least-once: consumers must deduplicate by document ID if
// exactly-once semantics are required. Close stops delivery, and the
// Changes channel is closed once the subscription terminates, so consumers
// ranging over it exit rather than block forever.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// Store is the durable document storage contract.
//
// Rules:
// - IDs are store-assigned on Insert and stable thereafter.
// - Update merges the patch into the existing document (top-level fields).
// - No Delete: calling code treats collections as append-and-mutate history.
type Store interface {
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	Update(ctx context.Context, collection, id string, patch Document) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error)
}

var ErrNotFound = errors.New("docstore: not found")

// Matches reports whether doc satisfies every equality constraint in filter.
func Matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy so callers cannot mutate stored state.
func Clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

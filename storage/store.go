package storage

import (
	"context"
	"errors"
	"reflect"
)

var (
	// ErrNotFound is returned when a write targets a document that does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConcurrencyConflict is returned when the backend rejects a write
	// because the document changed or already exists.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Document is one stored record addressed by its collection and id.
type Document struct {
	ID     string
	Fields map[string]any
}

// Filter restricts a query to documents whose field equals Value.
type Filter struct {
	Field string
	Value any
}

// Match reports whether fields satisfy the filter.
func (f Filter) Match(fields map[string]any) bool {
	v, ok := fields[f.Field]
	if !ok {
		return false
	}
	return reflect.DeepEqual(v, f.Value)
}

func matchAll(filters []Filter, fields map[string]any) bool {
	for _, f := range filters {
		if !f.Match(fields) {
			return false
		}
	}
	return true
}

// Snapshot is the full result set of a subscription at one point in time.
// A snapshot carrying Err reports a failed delivery; Docs is then empty.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Querier reads the current contents of a collection.
type Querier interface {
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
}

// Mutator writes documents. Update replaces only the named fields.
type Mutator interface {
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
}

// Store is a document store with a realtime change feed. Subscribe delivers
// a full snapshot on subscription and after every change to the collection;
// the channel is closed once ctx is done. Slow readers only see the latest
// snapshot.
type Store interface {
	Mutator
	Subscribe(ctx context.Context, collection string, filters ...Filter) <-chan Snapshot
}

// cloneFields deep copies the composite values a document may carry.
func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string{}, val...)
	default:
		return v
	}
}

// offer replaces whatever snapshot is pending on ch with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Package docstore defines the transactional document store the booking engines run against.
//
// A store holds JSON-like documents addressed by (collection, id). Transactions follow the
// Firestore model: every read must happen before the first write, conflicting transactions
// are retried by the store up to a fixed budget, and an error returned from the transaction
// function rolls back every write made inside it.
package docstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("document not found")
	ErrReadAfterWrite = errors.New("transaction read issued after a write")
	// ErrContention is returned when a transaction keeps conflicting after the retry budget.
	ErrContention = errors.New("transaction aborted after too many conflicting attempts")
)

// Fields is the body of a document.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's commit time when written as a field value.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Ref addresses a single document.
type Ref struct {
	Collection string
	ID         string
}

func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Collection starts a query over every document in the named collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

func (q Query) Where(field string, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

func (q Query) Order(field string, descending bool) Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Tx is the handle passed to a transaction function.
type Tx interface {
	// Get returns a snapshot whose Exists field is false when the document is absent.
	Get(ref Ref) (*Snapshot, error)
	Query(q Query) ([]*Snapshot, error)

	// Set creates or overwrites the document.
	Set(ref Ref, data Fields) error
	// Update merges top-level fields into an existing document.
	Update(ref Ref, data Fields) error
	Delete(ref Ref) error
}

// TxFunc must be safe to run more than once; the store re-runs it on conflict.
type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	RunTransaction(ctx context.Context, fn TxFunc) error
}

// OrderGuard enforces read-before-write ordering inside one transaction attempt.
type OrderGuard struct {
	wrote bool
}

func (g *OrderGuard) BeforeRead() error {
	if g.wrote {
		return ErrReadAfterWrite
	}
	return nil
}

func (g *OrderGuard) BeforeWrite() {
	g.wrote = true
}

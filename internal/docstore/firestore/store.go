// Package firestore adapts Cloud Firestore to docstore.Store.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

type Store struct {
	client      *firestore.Client
	maxAttempts int
}

func New(client *firestore.Client, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Store{client: client, maxAttempts: maxAttempts}
}

// FromApp opens the Firestore client of an initialized Firebase App.
func FromApp(ctx context.Context, app *firebase.App, maxAttempts int) (*Store, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: open client: %w", err)
	}
	return New(client, maxAttempts), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reads a document that does not need to exist; it only proves the backend answers.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.Get(ctx, docstore.Doc("_health", "ping"))
	return err
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	doc, err := s.docRef(ref).Get(ctx)
	return toSnapshot(ref, doc, err)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	docs, err := s.buildQuery(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: query %s: %w", q.Collection, err)
	}
	return toSnapshots(q.Collection, docs), nil
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &fsTx{store: s, tx: tx})
	}, firestore.MaxAttempts(s.maxAttempts))
	if err == nil {
		return nil
	}

	// Errors produced by fn come back untouched; only store-side failures carry a status.
	if _, ok := status.FromError(err); !ok {
		return err
	}
	switch status.Code(err) {
	case codes.Aborted:
		return fmt.Errorf("firestore: %w", docstore.ErrContention)
	case codes.NotFound:
		return fmt.Errorf("firestore: %w: %v", docstore.ErrNotFound, err)
	}
	return fmt.Errorf("firestore: run transaction: %w", err)
}

func (s *Store) docRef(ref docstore.Ref) *firestore.DocumentRef {
	return s.client.Collection(ref.Collection).Doc(ref.ID)
}

func (s *Store) buildQuery(q docstore.Query) firestore.Query {
	query := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, "==", f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

func toSnapshot(ref docstore.Ref, doc *firestore.DocumentSnapshot, err error) (*docstore.Snapshot, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return docstore.Missing(ref), nil
		}
		return nil, fmt.Errorf("firestore: get %s/%s: %w", ref.Collection, ref.ID, err)
	}
	if doc == nil || !doc.Exists() {
		return docstore.Missing(ref), nil
	}
	return &docstore.Snapshot{Ref: ref, Exists: true, Data: docstore.Fields(doc.Data())}, nil
}

func toSnapshots(collection string, docs []*firestore.DocumentSnapshot) []*docstore.Snapshot {
	out := make([]*docstore.Snapshot, 0, len(docs))
	for _, d := range docs {
		out = append(out, &docstore.Snapshot{
			Ref:    docstore.Doc(collection, d.Ref.ID),
			Exists: true,
			Data:   docstore.Fields(d.Data()),
		})
	}
	return out
}

// encode swaps the ServerTimestamp sentinel for Firestore's own.
func encode(data docstore.Fields) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if docstore.IsServerTimestamp(v) {
			out[k] = firestore.ServerTimestamp
			continue
		}
		out[k] = v
	}
	return out
}

type fsTx struct {
	store *Store
	tx    *firestore.Transaction
	guard docstore.OrderGuard
}

func (t *fsTx) Get(ref docstore.Ref) (*docstore.Snapshot, error) {
	if err := t.guard.BeforeRead(); err != nil {
		return nil, err
	}
	doc, err := t.tx.Get(t.store.docRef(ref))
	return toSnapshot(ref, doc, err)
}

func (t *fsTx) Query(q docstore.Query) ([]*docstore.Snapshot, error) {
	if err := t.guard.BeforeRead(); err != nil {
		return nil, err
	}
	docs, err := t.tx.Documents(t.store.buildQuery(q)).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: query %s: %w", q.Collection, err)
	}
	return toSnapshots(q.Collection, docs), nil
}

func (t *fsTx) Set(ref docstore.Ref, data docstore.Fields) error {
	t.guard.BeforeWrite()
	return t.tx.Set(t.store.docRef(ref), encode(data))
}

func (t *fsTx) Update(ref docstore.Ref, data docstore.Fields) error {
	t.guard.BeforeWrite()
	if len(data) == 0 {
		return errors.New("firestore: update with no fields")
	}
	updates := make([]firestore.Update, 0, len(data))
	for k, v := range encode(data) {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	return t.tx.Update(t.store.docRef(ref), updates)
}

func (t *fsTx) Delete(ref docstore.Ref) error {
	t.guard.BeforeWrite()
	return t.tx.Delete(t.store.docRef(ref))
}

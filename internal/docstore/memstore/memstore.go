// Package memstore is an in-process docstore.Store with optimistic, version-validated
// transactions. It backs local development and the engine tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

const defaultMaxAttempts = 5

type entry struct {
	data    docstore.Fields
	version uint64
}

type Store struct {
	mu          sync.Mutex
	docs        map[docstore.Ref]entry
	collections map[string]uint64
	seq         uint64

	maxAttempts int
	now         func() time.Time
}

type Option func(*Store)

// WithMaxAttempts sets how many times a conflicting transaction is re-run.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[docstore.Ref]entry),
		collections: make(map[string]uint64),
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.getLocked(ref)
	return snap, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, _ := s.queryLocked(q)
	return snaps, nil
}

func (s *Store) getLocked(ref docstore.Ref) (*docstore.Snapshot, uint64) {
	e, ok := s.docs[ref]
	if !ok {
		return docstore.Missing(ref), 0
	}
	return &docstore.Snapshot{Ref: ref, Exists: true, Data: e.data.Clone()}, e.version
}

func (s *Store) queryLocked(q docstore.Query) ([]*docstore.Snapshot, uint64) {
	var out []*docstore.Snapshot
	for ref, e := range s.docs {
		if ref.Collection != q.Collection || !docstore.Matches(e.data, q.Filters) {
			continue
		}
		out = append(out, &docstore.Snapshot{Ref: ref, Exists: true, Data: e.data.Clone()})
	}
	return docstore.Arrange(out, q), s.collections[q.Collection]
}

// RunTransaction runs fn against a private read/write set and validates the versions it read
// at commit. A stale read re-runs fn; any error from fn discards the buffered writes.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &memTx{
			store:     s,
			docReads:  make(map[docstore.Ref]uint64),
			collReads: make(map[string]uint64),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		committed, err := s.commit(tx)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return fmt.Errorf("memstore: %w", docstore.ErrContention)
}

func (s *Store) commit(tx *memTx) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, seen := range tx.docReads {
		if s.docs[ref].version != seen {
			return false, nil
		}
	}
	for coll, seen := range tx.collReads {
		if s.collections[coll] != seen {
			return false, nil
		}
	}

	// Stage against a copy of the touched entries so a failing update leaves nothing behind.
	now := s.now()
	staged := make(map[docstore.Ref]*entry)
	lookup := func(ref docstore.Ref) *entry {
		if e, ok := staged[ref]; ok {
			return e
		}
		if cur, ok := s.docs[ref]; ok {
			e := &entry{data: cur.data.Clone(), version: cur.version}
			staged[ref] = e
			return e
		}
		staged[ref] = nil
		return nil
	}

	for _, w := range tx.writes {
		switch w.kind {
		case opSet:
			staged[w.ref] = &entry{data: w.data.Resolve(now)}
		case opUpdate:
			e := lookup(w.ref)
			if e == nil {
				return false, fmt.Errorf("memstore: update %s/%s: %w", w.ref.Collection, w.ref.ID, docstore.ErrNotFound)
			}
			for k, v := range w.data.Resolve(now) {
				e.data[k] = v
			}
		case opDelete:
			staged[w.ref] = nil
		}
	}

	for ref, e := range staged {
		s.seq++
		s.collections[ref.Collection] = s.seq
		if e == nil {
			delete(s.docs, ref)
			continue
		}
		s.docs[ref] = entry{data: e.data, version: s.seq}
	}
	return true, nil
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opDelete
)

type write struct {
	kind opKind
	ref  docstore.Ref
	data docstore.Fields
}

type memTx struct {
	store     *Store
	guard     docstore.OrderGuard
	docReads  map[docstore.Ref]uint64
	collReads map[string]uint64
	writes    []write
}

func (t *memTx) Get(ref docstore.Ref) (*docstore.Snapshot, error) {
	if err := t.guard.BeforeRead(); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	snap, version := t.store.getLocked(ref)
	if _, seen := t.docReads[ref]; !seen {
		t.docReads[ref] = version
	}
	return snap, nil
}

func (t *memTx) Query(q docstore.Query) ([]*docstore.Snapshot, error) {
	if err := t.guard.BeforeRead(); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	snaps, version := t.store.queryLocked(q)
	if _, seen := t.collReads[q.Collection]; !seen {
		t.collReads[q.Collection] = version
	}
	return snaps, nil
}

func (t *memTx) Set(ref docstore.Ref, data docstore.Fields) error {
	t.guard.BeforeWrite()
	t.writes = append(t.writes, write{kind: opSet, ref: ref, data: data.Clone()})
	return nil
}

func (t *memTx) Update(ref docstore.Ref, data docstore.Fields) error {
	t.guard.BeforeWrite()
	t.writes = append(t.writes, write{kind: opUpdate, ref: ref, data: data.Clone()})
	return nil
}

func (t *memTx) Delete(ref docstore.Ref) error {
	t.guard.BeforeWrite()
	t.writes = append(t.writes, write{kind: opDelete, ref: ref})
	return nil
}

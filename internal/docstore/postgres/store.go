// Package postgres stores documents as jsonb rows and runs transactions at SERIALIZABLE
// isolation, re-running the transaction function on serialization failures.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text        NOT NULL,
	id         text        NOT NULL,
	data       jsonb       NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops);
`

type Store struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func New(pool *pgxpool.Pool, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Store{pool: pool, maxAttempts: maxAttempts}
}

// Migrate creates the documents table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate documents table: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	return getDoc(ctx, s.pool, ref)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Snapshot, error) {
	return queryDocs(ctx, s.pool, q)
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("postgres: %w", docstore.ErrContention)
}

func (s *Store) runOnce(ctx context.Context, fn docstore.TxFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	handle := &pgTx{ctx: ctx, tx: tx, now: time.Now().UTC()}
	if err := fn(ctx, handle); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isRetryable matches serialization failures, deadlocks and the unique violation two
// transactions hit when both create the same absent document.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getDoc(ctx context.Context, q querier, ref docstore.Ref) (*docstore.Snapshot, error) {
	var raw []byte
	err := q.QueryRow(ctx, `
		SELECT data
		FROM documents
		WHERE collection = $1 AND id = $2
	`, ref.Collection, ref.ID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Missing(ref), nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", ref.Collection, ref.ID, err)
	}

	data, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return &docstore.Snapshot{Ref: ref, Exists: true, Data: data}, nil
}

func queryDocs(ctx context.Context, q querier, query docstore.Query) ([]*docstore.Snapshot, error) {
	sql, args, err := buildQuery(query)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", query.Collection, err)
	}
	defer rows.Close()

	var out []*docstore.Snapshot
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", query.Collection, id, err)
		}
		out = append(out, &docstore.Snapshot{
			Ref:    docstore.Doc(query.Collection, id),
			Exists: true,
			Data:   data,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// buildQuery turns equality filters into a single jsonb containment predicate.
func buildQuery(q docstore.Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}

	sb.WriteString("SELECT id, data FROM documents WHERE collection = $1")

	if len(q.Filters) > 0 {
		match := make(map[string]any, len(q.Filters))
		for _, f := range q.Filters {
			match[f.Field] = encodeValue(f.Value, time.Time{})
		}
		b, err := json.Marshal(match)
		if err != nil {
			return "", nil, fmt.Errorf("encode filters: %w", err)
		}
		args = append(args, string(b))
		fmt.Fprintf(&sb, " AND data @> $%d::jsonb", len(args))
	}

	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY data->>$%d %s, id", len(args), dir)
	} else {
		sb.WriteString(" ORDER BY id")
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args, nil
}

func encodeValue(v any, now time.Time) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(docstore.TimeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(docstore.TimeLayout)
	}
	if docstore.IsServerTimestamp(v) {
		return now.UTC().Format(docstore.TimeLayout)
	}
	return v
}

func encodeFields(data docstore.Fields, now time.Time) (string, error) {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = encodeValue(v, now)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFields(raw []byte) (docstore.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data docstore.Fields
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

type pgTx struct {
	ctx   context.Context
	tx    pgx.Tx
	now   time.Time
	guard docstore.OrderGuard
}

func (t *pgTx) Get(ref docstore.Ref) (*docstore.Snapshot, error) {
	if err := t.guard.BeforeRead(); err != nil {
		return nil, err
	}
	return getDoc(t.ctx, t.tx, ref)
}

func (t *pgTx) Query(q docstore.Query) ([]*docstore.Snapshot, error) {
	if err := t.guard.BeforeRead(); err != nil {
		return nil, err
	}
	return queryDocs(t.ctx, t.tx, q)
}

func (t *pgTx) Set(ref docstore.Ref, data docstore.Fields) error {
	t.guard.BeforeWrite()
	body, err := encodeFields(data, t.now)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ref.Collection, ref.ID, err)
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, now(), now())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, ref.Collection, ref.ID, body)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return nil
}

func (t *pgTx) Update(ref docstore.Ref, data docstore.Fields) error {
	t.guard.BeforeWrite()
	body, err := encodeFields(data, t.now)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ref.Collection, ref.ID, err)
	}
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE documents
		SET data = data || $3::jsonb,
		    updated_at = now()
		WHERE collection = $1 AND id = $2
	`, ref.Collection, ref.ID, body)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", ref.Collection, ref.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s/%s: %w", ref.Collection, ref.ID, docstore.ErrNotFound)
	}
	return nil
}

func (t *pgTx) Delete(ref docstore.Ref) error {
	t.guard.BeforeWrite()
	_, err := t.tx.Exec(t.ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
	`, ref.Collection, ref.ID)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
	"github.com/hackgods/clearance-scheduling/internal/docstore/storetest"
)

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    docstore.Query
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "collection only",
			query:    docstore.Collection("slots"),
			wantSQL:  "SELECT id, data FROM documents WHERE collection = $1 ORDER BY id",
			wantArgs: []any{"slots"},
		},
		{
			name:     "filters order and limit",
			query:    docstore.Collection("appointments").Where("userId", "u1").Order("createdAt", true).Take(20),
			wantSQL:  "SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY data->>$3 DESC, id LIMIT $4",
			wantArgs: []any{"appointments", `{"userId":"u1"}`, "createdAt", 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := buildQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestEncodeFields(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	body, err := encodeFields(docstore.Fields{
		"createdAt": docstore.ServerTimestamp,
		"capacity":  int64(400),
	}, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"createdAt":"2025-02-03T04:05:06.000000000Z","capacity":400}`, body)

	data, err := decodeFields([]byte(body))
	require.NoError(t, err)
	snap := &docstore.Snapshot{Data: data}
	n, ok := snap.Int("capacity")
	require.True(t, ok)
	assert.Equal(t, int64(400), n)
	assert.True(t, now.Equal(snap.Time("createdAt")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetryable(fmt.Errorf("commit transaction: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, isRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetryable(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, isRetryable(docstore.ErrNotFound))
}

func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool, 50)
	require.NoError(t, store.Migrate(ctx))

	storetest.Run(t, store)
}

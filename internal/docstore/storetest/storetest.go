// Package storetest holds the behaviour every docstore.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

var errBoom = errors.New("boom")

// Run exercises store against the docstore contract. Collections are namespaced per run so a
// shared backend can be reused between runs.
func Run(t *testing.T, store docstore.Store) {
	ns := "t" + uuid.NewString()[:8] + "_"
	ctx := context.Background()

	t.Run("get missing document", func(t *testing.T) {
		snap, err := store.Get(ctx, docstore.Doc(ns+"things", "nope"))
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("set update delete", func(t *testing.T) {
		ref := docstore.Doc(ns+"things", "a")

		err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			return tx.Set(ref, docstore.Fields{"name": "alpha", "count": int64(1)})
		})
		require.NoError(t, err)

		err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			return tx.Update(ref, docstore.Fields{"count": int64(2), "updatedAt": docstore.ServerTimestamp})
		})
		require.NoError(t, err)

		snap, err := store.Get(ctx, ref)
		require.NoError(t, err)
		require.True(t, snap.Exists)
		assert.Equal(t, "alpha", snap.String("name"))
		n, ok := snap.Int("count")
		require.True(t, ok)
		assert.Equal(t, int64(2), n)
		assert.False(t, snap.Time("updatedAt").IsZero())

		err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			return tx.Delete(ref)
		})
		require.NoError(t, err)

		snap, err = store.Get(ctx, ref)
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("update of missing document fails", func(t *testing.T) {
		err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			return tx.Update(docstore.Doc(ns+"things", "ghost"), docstore.Fields{"count": int64(1)})
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("read after write is rejected", func(t *testing.T) {
		ref := docstore.Doc(ns+"things", "raw")
		err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			if err := tx.Set(ref, docstore.Fields{"x": int64(1)}); err != nil {
				return err
			}
			_, err := tx.Get(ref)
			return err
		})
		assert.ErrorIs(t, err, docstore.ErrReadAfterWrite)

		snap, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("error from transaction function rolls back", func(t *testing.T) {
		ref := docstore.Doc(ns+"things", "rolled")
		err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			if err := tx.Set(ref, docstore.Fields{"x": int64(1)}); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		snap, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("query filters orders and limits", func(t *testing.T) {
		coll := ns + "rows"
		base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
		err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			for i, id := range []string{"r1", "r2", "r3", "r4"} {
				owner := "u1"
				if id == "r4" {
					owner = "u2"
				}
				if err := tx.Set(docstore.Doc(coll, id), docstore.Fields{
					"owner":     owner,
					"createdAt": base.Add(time.Duration(i) * time.Minute),
				}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		snaps, err := store.Query(ctx, docstore.Collection(coll).Where("owner", "u1").Order("createdAt", true))
		require.NoError(t, err)
		require.Len(t, snaps, 3)
		assert.Equal(t, "r3", snaps[0].ID)
		assert.Equal(t, "r1", snaps[2].ID)

		snaps, err = store.Query(ctx, docstore.Collection(coll).Where("owner", "u1").Order("createdAt", false).Take(2))
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "r1", snaps[0].ID)

		err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			snaps, err := tx.Query(docstore.Collection(coll).Where("owner", "u2"))
			if err != nil {
				return err
			}
			assert.Len(t, snaps, 1)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("concurrent increments never lose an update", func(t *testing.T) {
		ref := docstore.Doc(ns+"counters", "c")
		const workers = 12

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			committed int64
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
					snap, err := tx.Get(ref)
					if err != nil {
						return err
					}
					n, _ := snap.Int("n")
					return tx.Set(ref, docstore.Fields{"n": n + 1})
				})
				if err != nil {
					assert.ErrorIs(t, err, docstore.ErrContention)
					return
				}
				mu.Lock()
				committed++
				mu.Unlock()
			}()
		}
		wg.Wait()

		snap, err := store.Get(ctx, ref)
		require.NoError(t, err)
		n, _ := snap.Int("n")
		assert.Equal(t, committed, n)
		assert.Positive(t, committed)
	})
}

package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/docstore/memstore"
	"github.com/hackgods/clearance-scheduling/internal/identity"
)

func TestOpenMemoryStore(t *testing.T) {
	cfg := config.Config{StoreBackend: config.StoreMemory, StoreTxMaxAttempts: 5}

	d, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	assert.IsType(t, &memstore.Store{}, d.Store)
	assert.Nil(t, d.Pinger)
	assert.Nil(t, d.Redis)
	require.NotNil(t, d.Locker)

	ran := false
	require.NoError(t, d.Locker.WithLock(context.Background(), "x", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreBackend: "sqlite"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestIdentityJWT(t *testing.T) {
	d := &Deps{}
	cfg := config.Config{AuthMode: config.AuthJWT, JWTSecret: "s", JWTExpiry: time.Hour}

	provider, issuer, err := d.Identity(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, issuer)

	tok, err := issuer.Issue(identity.User{UID: "u1", Role: identity.RoleStudent})
	require.NoError(t, err)
	u, err := provider.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.UID)
}

func TestIdentityUnknownMode(t *testing.T) {
	_, _, err := (&Deps{}).Identity(context.Background(), config.Config{AuthMode: "saml"})
	assert.Error(t, err)
}

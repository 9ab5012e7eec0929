// Package bootstrap turns a loaded Config into the live dependencies shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/db"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
	fsstore "github.com/hackgods/clearance-scheduling/internal/docstore/firestore"
	"github.com/hackgods/clearance-scheduling/internal/docstore/memstore"
	pgstore "github.com/hackgods/clearance-scheduling/internal/docstore/postgres"
	"github.com/hackgods/clearance-scheduling/internal/firebaseapp"
	"github.com/hackgods/clearance-scheduling/internal/identity"
	redisclient "github.com/hackgods/clearance-scheduling/internal/redis"
)

// Pinger is implemented by backends that talk to a server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the opened backends. Close releases them in reverse order.
type Deps struct {
	Store    docstore.Store
	Pinger   Pinger // nil for the in-memory store
	Redis    *redis.Client
	Locker   redisclient.Locker
	Firebase *firebase.App

	closers []func()
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Open connects the configured store and, when an address is set, Redis.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Deps, error) {
	d := &Deps{}

	if err := d.openStore(ctx, cfg, log); err != nil {
		d.Close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
			Timeout:  cfg.RedisTimeout,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		d.Redis = rdb
		d.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		d.closers = append(d.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		})
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	} else {
		d.Locker = redisclient.NewLocalLocker()
		log.Info("redis not configured, using in-process cache and lock")
	}

	return d, nil
}

func (d *Deps) openStore(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		d.closers = append(d.closers, pool.Close)

		store := pgstore.New(pool, cfg.StoreTxMaxAttempts)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		d.Store, d.Pinger = store, store
		log.Info("connected to Postgres")

	case config.StoreFirestore:
		app, err := d.firebaseApp(ctx, cfg)
		if err != nil {
			return err
		}
		store, err := fsstore.FromApp(ctx, app, cfg.StoreTxMaxAttempts)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() {
			if err := store.Close(); err != nil {
				log.Warn("error closing firestore", zap.Error(err))
			}
		})
		d.Store, d.Pinger = store, store
		log.Info("connected to Firestore", zap.String("project", cfg.FirebaseProjectID))

	case config.StoreMemory:
		d.Store = memstore.New(memstore.WithMaxAttempts(cfg.StoreTxMaxAttempts))
		log.Warn("using in-memory store, data is lost on restart")

	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return nil
}

func (d *Deps) firebaseApp(ctx context.Context, cfg config.Config) (*firebase.App, error) {
	if d.Firebase != nil {
		return d.Firebase, nil
	}
	app, err := firebaseapp.New(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredFile)
	if err != nil {
		return nil, err
	}
	d.Firebase = app
	return app, nil
}

// Identity builds the token verifier for cfg.AuthMode. The JWT provider is also returned
// so tools can mint tokens; it is nil in firebase mode.
func (d *Deps) Identity(ctx context.Context, cfg config.Config) (identity.Provider, *identity.JWTProvider, error) {
	switch cfg.AuthMode {
	case config.AuthFirebase:
		app, err := d.firebaseApp(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		p, err := identity.NewFirebaseProvider(ctx, app, cfg.StudentDomains)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	case config.AuthJWT:
		p := identity.NewJWTProvider(cfg.JWTSecret, cfg.JWTExpiry)
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

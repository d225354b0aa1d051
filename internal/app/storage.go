// Package app wires configuration to concrete stores, lockers and the run
// pipeline shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/Financial-Management-System/FMS-sub000/internal/config"
	"github.com/Financial-Management-System/FMS-sub000/internal/infra/bigquery"
	"github.com/Financial-Management-System/FMS-sub000/internal/runlock"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage/memory"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage/postgres"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OpenStore opens the storage driver selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Store, error) {
	log = log.With().Str("driver", cfg.Driver).Logger()

	switch cfg.Driver {
	case config.DriverMemory, "":
		log.Warn().Msg("Using in-memory storage; data is lost on exit")
		return memory.NewStore(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Path, cfg.BusyTimeoutOrDefault(), log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverBigQuery:
		s, err := bigquery.NewStore(ctx, cfg.ProjectID, cfg.Dataset, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown storage driver %q", cfg.Driver)
	}
}

// OpenLocker builds the run lock selected by cfg.Driver. The returned close
// function releases any client connection.
func OpenLocker(cfg config.LockConfig, log zerolog.Logger) (runlock.Locker, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Driver {
	case config.LockNone:
		return runlock.Nop{}, noClose, nil
	case config.LockLocal, "":
		return runlock.NewLocal(), noClose, nil
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		log.Info().Str("redis_addr", cfg.RedisAddr).Str("key_prefix", cfg.KeyPrefix).Msg("Using Redis run lock")
		return runlock.NewRedis(client, cfg.KeyPrefix), client.Close, nil
	default:
		return nil, noClose, fmt.Errorf("OpenLocker: unknown lock driver %q", cfg.Driver)
	}
}

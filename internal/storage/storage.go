// Package storage holds the persistence backends behind core.Store.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/config"
	"github.com/dkeye/Chorus/internal/core"
)

var (
	_ core.Store = (*BadgerStore)(nil)
	_ core.Store = (*PostgresStore)(nil)
	_ core.Store = (*StatusMirror)(nil)

	_ core.StatusReader = (*StatusMirror)(nil)
)

// Open picks the backend named by cfg.Storage.Driver and wraps it with the
// redis status mirror when cfg.Redis.Addr is set.
func Open(ctx context.Context, cfg *config.Config) (core.Store, error) {
	var (
		store core.Store
		err   error
	)
	switch cfg.Storage.Driver {
	case config.DriverBadger, "":
		store, err = OpenBadger(cfg.Storage.BadgerPath)
	case config.DriverPostgres:
		store, err = OpenPostgres(ctx, cfg.Storage.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Addr == "" {
		return store, nil
	}
	rdb, err := NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info().Str("module", "storage").Str("redis", cfg.Redis.Addr).Msg("mirroring status to redis")
	return NewStatusMirror(store, rdb), nil
}

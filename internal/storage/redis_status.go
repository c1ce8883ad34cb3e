package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/config"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
)

// StatusKey is the redis hash of user id -> status.
const StatusKey = "chorus:status"

// StatusMirror wraps a Store and copies every status change into redis so
// other tools can read presence without touching the primary store. Redis
// failures are logged and never fail the wrapped call.
type StatusMirror struct {
	core.Store
	rdb *redis.Client
}

func NewRedisClient(ctx context.Context, c config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", c.Addr, err)
	}
	return rdb, nil
}

func NewStatusMirror(store core.Store, rdb *redis.Client) *StatusMirror {
	return &StatusMirror{Store: store, rdb: rdb}
}

func (m *StatusMirror) SetUserStatus(ctx context.Context, id domain.UserID, status domain.UserStatus) error {
	if err := m.Store.SetUserStatus(ctx, id, status); err != nil {
		return err
	}
	if err := m.rdb.HSet(ctx, StatusKey, strconv.FormatInt(int64(id), 10), string(status)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "storage.redis").Int64("user", int64(id)).Msg("mirror status")
	}
	return nil
}

// Status reads the mirrored status; a user never seen is offline.
func (m *StatusMirror) Status(ctx context.Context, id domain.UserID) (domain.UserStatus, error) {
	v, err := m.rdb.HGet(ctx, StatusKey, strconv.FormatInt(int64(id), 10)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.StatusOffline, nil
	}
	if err != nil {
		return "", err
	}
	return domain.UserStatus(v), nil
}

func (m *StatusMirror) Close() error {
	err := m.Store.Close()
	if cerr := m.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}

package cache

import (
	"context"
	"time"

	"github.com/pliu/nwitter/internal/models"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const ProfileTTL = 5 * time.Minute

// ProfileCache stores msgpack-encoded profiles. A nil *ProfileCache, or one
// without Redis, is a cache that always misses.
type ProfileCache struct {
	redis *RedisCache
	log   *zap.Logger
}

func NewProfileCache(redis *RedisCache, log *zap.Logger) *ProfileCache {
	return &ProfileCache{redis: redis, log: log}
}

func profileKey(userID string) string { return "profile:" + userID }

// Get reports a miss for absent keys and for entries that fail to decode
// or validate. Redis errors are logged and also reported as misses.
func (pc *ProfileCache) Get(ctx context.Context, userID string) (models.Profile, bool) {
	if pc == nil || pc.redis == nil {
		return models.Profile{}, false
	}
	data, err := pc.redis.Get(ctx, profileKey(userID))
	if err != nil {
		pc.log.Warn("profile cache get failed", zap.String("user_id", userID), zap.Error(err))
		return models.Profile{}, false
	}
	if data == nil {
		return models.Profile{}, false
	}
	var p models.Profile
	if err := msgpack.Unmarshal(data, &p); err != nil {
		pc.log.Warn("dropping undecodable profile cache entry", zap.String("user_id", userID), zap.Error(err))
		pc.Invalidate(ctx, userID)
		return models.Profile{}, false
	}
	if err := p.Validate(); err != nil || p.ID != userID {
		pc.log.Warn("dropping invalid profile cache entry", zap.String("user_id", userID))
		pc.Invalidate(ctx, userID)
		return models.Profile{}, false
	}
	return p, true
}

func (pc *ProfileCache) Set(ctx context.Context, p models.Profile) {
	if pc == nil || pc.redis == nil {
		return
	}
	data, err := msgpack.Marshal(p)
	if err != nil {
		pc.log.Warn("profile cache encode failed", zap.String("user_id", p.ID), zap.Error(err))
		return
	}
	if err := pc.redis.Set(ctx, profileKey(p.ID), data, ProfileTTL); err != nil {
		pc.log.Warn("profile cache set failed", zap.String("user_id", p.ID), zap.Error(err))
	}
}

func (pc *ProfileCache) Invalidate(ctx context.Context, userID string) {
	if pc == nil || pc.redis == nil {
		return
	}
	if err := pc.redis.Delete(ctx, profileKey(userID)); err != nil {
		pc.log.Warn("profile cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdentityCache recuerda qué usuario es dueño de un providerId. Solo guarda el id:
// el estado de la cuenta siempre se lee del store, así que una entrada vieja
// nunca autentica por sí sola. Un fallo del cache se trata como miss.
type IdentityCache interface {
	Get(ctx context.Context, providerID string) (string, bool)
	Set(ctx context.Context, providerID, userID string)
	Invalidate(ctx context.Context, providerIDs ...string)
}

type noopIdentityCache struct{}

func NewNoopIdentityCache() IdentityCache { return noopIdentityCache{} }

func (noopIdentityCache) Get(context.Context, string) (string, bool) { return "", false }
func (noopIdentityCache) Set(context.Context, string, string)        {}
func (noopIdentityCache) Invalidate(context.Context, ...string)      {}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisIdentityCache struct {
	client  redisKV
	logger  *zap.Logger
	ttl     time.Duration
	prefix  string
	timeout time.Duration
}

// NewRedisIdentityCache devuelve un cache no-op sin cliente o con ttl <= 0.
func NewRedisIdentityCache(client *redis.Client, logger *zap.Logger, ttl time.Duration) IdentityCache {
	if client == nil || ttl <= 0 {
		return NewNoopIdentityCache()
	}
	return newRedisIdentityCache(client, logger, ttl)
}

func newRedisIdentityCache(client redisKV, logger *zap.Logger, ttl time.Duration) *redisIdentityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisIdentityCache{
		client:  client,
		logger:  logger,
		ttl:     ttl,
		prefix:  "auth:identity:",
		timeout: 500 * time.Millisecond,
	}
}

func (c *redisIdentityCache) Get(ctx context.Context, providerID string) (string, bool) {
	if strings.TrimSpace(providerID) == "" {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userID, err := c.client.Get(ctx, c.prefix+providerID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("identity cache get failed", zap.Error(err))
		}
		return "", false
	}
	if userID == "" {
		return "", false
	}
	return userID, true
}

func (c *redisIdentityCache) Set(ctx context.Context, providerID, userID string) {
	if strings.TrimSpace(providerID) == "" || userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+providerID, userID, c.ttl).Err(); err != nil {
		c.logger.Warn("identity cache set failed", zap.Error(err))
	}
}

func (c *redisIdentityCache) Invalidate(ctx context.Context, providerIDs ...string) {
	keys := make([]string, 0, len(providerIDs))
	for _, id := range providerIDs {
		if strings.TrimSpace(id) != "" {
			keys = append(keys, c.prefix+id)
		}
	}
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("identity cache invalidate failed", zap.Error(err))
	}
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/models"
)

const searchKeyCachePrefix = "search_key:"

type KeyIssuer interface {
	Issue(ctx context.Context, callerID string) (models.SecuredKey, error)
}

// SearchKeyCache reuses a caller's secured key until the refresh interval
// elapses, so typing in the search box does not mint a key per keystroke.
type SearchKeyCache struct {
	redis   RedisClient
	issuer  KeyIssuer
	refresh time.Duration
	margin  time.Duration
	now     func() time.Time
	logger  *logging.Logger
}

// NewSearchKeyCache caches keys for refresh. Keys are reissued once they are
// within ttl-refresh of expiring, even if still cached.
func NewSearchKeyCache(redisClient RedisClient, issuer KeyIssuer, ttl, refresh time.Duration) *SearchKeyCache {
	margin := ttl - refresh
	if margin < 0 {
		margin = 0
	}
	return &SearchKeyCache{
		redis:   redisClient,
		issuer:  issuer,
		refresh: refresh,
		margin:  margin,
		now:     time.Now,
		logger:  logging.Default,
	}
}

func (c *SearchKeyCache) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *SearchKeyCache) Key(ctx context.Context, callerID string) (models.SecuredKey, error) {
	if callerID == "" {
		return models.SecuredKey{}, ErrUnauthenticated
	}
	cacheKey := searchKeyCachePrefix + callerID

	if c.redis != nil {
		if key, ok := c.cached(ctx, cacheKey); ok {
			return key, nil
		}
	}

	key, err := c.issuer.Issue(ctx, callerID)
	if err != nil {
		return models.SecuredKey{}, fmt.Errorf("issuing search key: %w", err)
	}

	if c.redis != nil {
		c.store(ctx, cacheKey, key)
	}
	return key, nil
}

// Invalidate drops the caller's cached key.
func (c *SearchKeyCache) Invalidate(ctx context.Context, callerID string) error {
	if c.redis == nil || callerID == "" {
		return nil
	}
	return c.redis.Del(ctx, searchKeyCachePrefix+callerID)
}

func (c *SearchKeyCache) cached(ctx context.Context, cacheKey string) (models.SecuredKey, bool) {
	raw, err := c.redis.Get(ctx, cacheKey)
	if errors.Is(err, ErrCacheMiss) {
		return models.SecuredKey{}, false
	}
	if err != nil {
		c.logger.Warn("Search key cache read failed", map[string]interface{}{"error": err.Error()})
		return models.SecuredKey{}, false
	}

	var key models.SecuredKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		c.logger.Warn("Discarding malformed cached search key", map[string]interface{}{"error": err.Error()})
		return models.SecuredKey{}, false
	}
	if key.Expired(c.now(), c.margin) {
		return models.SecuredKey{}, false
	}
	return key, true
}

func (c *SearchKeyCache) store(ctx context.Context, cacheKey string, key models.SecuredKey) {
	ttl := c.refresh
	if remaining := key.ValidUntil.Sub(c.now()) - c.margin; remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(key)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey, string(data), ttl); err != nil {
		c.logger.Warn("Search key cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

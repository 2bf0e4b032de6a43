package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teaching-eval-scoring/internal/observability"
	"github.com/noah-isme/teaching-eval-scoring/pkg/docparse"
)

const parseCachePrefix = "scoring:parse:"

// ParseCacheKey identifies one extraction of one file revision.
type ParseCacheKey struct {
	Path     string
	Size     int64
	ModTime  time.Time
	MaxChars int
}

func (k ParseCacheKey) String() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%d", k.Path, k.Size, k.ModTime.UnixNano(), k.MaxChars)))
	return parseCachePrefix + hex.EncodeToString(sum[:])
}

// ParseCache stores extracted documents between scoring calls.
type ParseCache interface {
	Get(ctx context.Context, key ParseCacheKey) (docparse.Document, bool)
	Put(ctx context.Context, key ParseCacheKey, doc docparse.Document)
}

type redisParseCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewParseCache returns a redis-backed cache, or a no-op cache when client is nil.
// Cache failures are logged and treated as misses.
func NewParseCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) ParseCache {
	if client == nil {
		return noopParseCache{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &redisParseCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "parse_cache").Logger(),
	}
}

func (c *redisParseCache) Get(ctx context.Context, key ParseCacheKey) (docparse.Document, bool) {
	cached, err := c.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("path", key.Path).Msg("parse cache lookup failed")
			observability.ParseCacheLookups().WithLabelValues("error").Inc()
		} else {
			observability.ParseCacheLookups().WithLabelValues("miss").Inc()
		}
		return docparse.Document{}, false
	}

	var doc docparse.Document
	if err := json.Unmarshal(cached, &doc); err != nil {
		c.logger.Warn().Err(err).Str("path", key.Path).Msg("discarding undecodable parse cache entry")
		observability.ParseCacheLookups().WithLabelValues("error").Inc()
		return docparse.Document{}, false
	}
	observability.ParseCacheLookups().WithLabelValues("hit").Inc()
	return doc, true
}

func (c *redisParseCache) Put(ctx context.Context, key ParseCacheKey, doc docparse.Document) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key.String(), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("path", key.Path).Msg("parse cache store failed")
	}
}

type noopParseCache struct{}

func (noopParseCache) Get(context.Context, ParseCacheKey) (docparse.Document, bool) {
	return docparse.Document{}, false
}

func (noopParseCache) Put(context.Context, ParseCacheKey, docparse.Document) {}

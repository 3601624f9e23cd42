package docstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cachePrefix = "fhir:doc:"

type bypassKey struct{}

// WithoutCache marks reads made with ctx to go straight to the underlying
// store. Version checks use it so they never act on a cached copy.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// CacheBackend holds cached documents per resource. Every eviction bumps the
// resource's generation; Put stores nothing when the generation moved since
// the caller read it, so a load that raced a write cannot repopulate the
// cache with the old version.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generation(ctx context.Context, resource string) (int64, error)
	Put(ctx context.Context, resource, key string, gen int64, data []byte, ttl time.Duration) (bool, error)
	Evict(ctx context.Context, resource string) error
}

// Cached is a read-through cache in front of a Store. Only FindOne lookups
// pinned to a single resourceType and id are cached; every write evicts the
// entries of the resource it touched. Backend failures are logged and
// otherwise ignored.
type Cached struct {
	Store
	backend CacheBackend
	ttl     time.Duration
	logger  zerolog.Logger
}

func NewCached(store Store, rdb redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *Cached {
	return NewCachedBackend(store, &RedisBackend{rdb: rdb}, ttl, logger)
}

func NewCachedBackend(store Store, backend CacheBackend, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{
		Store:   store,
		backend: backend,
		ttl:     ttl,
		logger:  logger.With().Str("component", "docstore_cache").Logger(),
	}
}

func (c *Cached) FindOne(ctx context.Context, cond Condition, projection map[string]any) (Document, error) {
	rt, id, ok := pinnedIdentity(cond)
	if !ok || cacheBypassed(ctx) {
		return c.Store.FindOne(ctx, cond, projection)
	}
	key, err := cacheKey(rt, id, cond, projection)
	if err != nil {
		return c.Store.FindOne(ctx, cond, projection)
	}
	resource := rt + "/" + id

	raw, hit, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	if hit {
		var doc Document
		if jerr := json.Unmarshal(raw, &doc); jerr == nil {
			return doc, nil
		}
	}

	gen, genErr := c.backend.Generation(ctx, resource)
	doc, err := c.Store.FindOne(ctx, cond, projection)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		c.logger.Warn().Err(genErr).Str("resource", resource).Msg("cache generation unavailable")
		return doc, nil
	}
	if data, jerr := json.Marshal(doc); jerr == nil {
		stored, err := c.backend.Put(ctx, resource, key, gen, data, c.ttl)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		} else if !stored {
			c.logger.Debug().Str("key", key).Msg("cache write skipped after concurrent change")
		}
	}
	return doc, nil
}

func (c *Cached) Insert(ctx context.Context, doc Document) (Document, error) {
	stored, err := c.Store.Insert(ctx, doc)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, stored)
	return stored, nil
}

func (c *Cached) ReplaceOne(ctx context.Context, cond Condition, doc Document) (Document, error) {
	stored, err := c.Store.ReplaceOne(ctx, cond, doc)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, stored)
	return stored, nil
}

func (c *Cached) UpdateOne(ctx context.Context, cond Condition, update Update) (Document, error) {
	stored, err := c.Store.UpdateOne(ctx, cond, update)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, stored)
	return stored, nil
}

func (c *Cached) evict(ctx context.Context, doc Document) {
	rt, id := identity(doc)
	if err := c.backend.Evict(ctx, rt+"/"+id); err != nil {
		c.logger.Warn().Err(err).Str("resource", rt+"/"+id).Msg("cache eviction failed")
	}
}

// RedisBackend keeps entries in Redis. Each resource has a set of its entry
// keys and a generation counter; Put runs under WATCH on the counter.
type RedisBackend struct {
	rdb redis.UniversalClient
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return raw, true, nil
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (r *RedisBackend) Generation(ctx context.Context, resource string) (int64, error) {
	gen, err := r.rdb.Get(ctx, generationKey(resource)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (r *RedisBackend) Put(ctx context.Context, resource, key string, gen int64, data []byte, ttl time.Duration) (bool, error) {
	genKey := generationKey(resource)
	stale := false
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			stale = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.SAdd(ctx, indexKey(resource), key)
			pipe.Expire(ctx, indexKey(resource), ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !stale, nil
}

func (r *RedisBackend) Evict(ctx context.Context, resource string) error {
	idx := indexKey(resource)
	keys, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(resource))
		pipe.Del(ctx, append(keys, idx)...)
		return nil
	})
	return err
}

// pinnedIdentity reports the resourceType and id a condition is restricted
// to, when both are plain string equalities.
func pinnedIdentity(cond Condition) (string, string, bool) {
	rt, ok := cond["resourceType"].(string)
	if !ok {
		return "", "", false
	}
	id, ok := cond["id"].(string)
	if !ok {
		return "", "", false
	}
	return rt, id, true
}

func indexKey(resource string) string {
	return cachePrefix + resource + ":keys"
}

func generationKey(resource string) string {
	return cachePrefix + resource + ":gen"
}

// cacheKey derives a key from the full lookup so different projections and
// filters never share an entry. encoding/json sorts map keys, which keeps
// the digest stable.
func cacheKey(resourceType, id string, cond Condition, projection map[string]any) (string, error) {
	data, err := json.Marshal([]any{cond, projection})
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(data)
	return cachePrefix + resourceType + "/" + id + ":" + hex.EncodeToString(sum[:]), nil
}

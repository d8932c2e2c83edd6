package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"planit/domain"
)

// backend is what Cache wraps.
type backend interface {
	Querier
	Mutator
}

// Cache wraps a backend with Redis-backed caching of query results. Every
// write to a collection bumps its version and evicts all cached results for
// it. A result is only cached if the version did not move while it was read.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

type cachedDocument struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (c *Cache) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	key := queryCacheKey(collection, filters)
	if docs, ok := c.load(ctx, key); ok {
		return docs, nil
	}
	version, ok := c.version(ctx, collection)
	docs, err := c.base.Query(ctx, collection, filters...)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, collection, key, version, docs)
	}
	return docs, nil
}

func (c *Cache) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := c.base.Create(ctx, collection, fields)
	if err != nil {
		return "", err
	}
	c.evict(ctx, collection)
	return id, nil
}

func (c *Cache) Update(ctx context.Context, path string, fields map[string]any) error {
	err := c.base.Update(ctx, path, fields)
	// a failed write may still have been applied remotely
	if collection, _, perr := domain.SplitDocPath(path); perr == nil {
		c.evict(ctx, collection)
	}
	return err
}

func (c *Cache) Delete(ctx context.Context, path string) error {
	err := c.base.Delete(ctx, path)
	if collection, _, perr := domain.SplitDocPath(path); perr == nil {
		c.evict(ctx, collection)
	}
	return err
}

func (c *Cache) load(ctx context.Context, key string) ([]Document, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var cached []cachedDocument
	if err := sonic.Unmarshal(data, &cached); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	docs := make([]Document, 0, len(cached))
	for _, d := range cached {
		if d.Fields == nil {
			d.Fields = map[string]any{}
		}
		docs = append(docs, Document{ID: d.ID, Fields: d.Fields})
	}
	return docs, true
}

func (c *Cache) version(ctx context.Context, collection string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	v, err := c.redis.Get(ctx, collectionVersionKey(collection)).Int64()
	switch {
	case err == redis.Nil:
		return 0, true
	case err != nil:
		return 0, false
	}
	return v, true
}

func (c *Cache) store(ctx context.Context, collection, key string, version int64, docs []Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	cached := make([]cachedDocument, 0, len(docs))
	for _, d := range docs {
		cached = append(cached, cachedDocument{ID: d.ID, Fields: d.Fields})
	}
	data, err := sonic.Marshal(cached)
	if err != nil {
		return
	}
	versionKey := collectionVersionKey(collection)
	// a write that lands between the check and EXEC aborts the transaction
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			pipe.SAdd(ctx, collectionKeysKey(collection), key)
			pipe.Expire(ctx, collectionKeysKey(collection), c.ttl)
			return nil
		})
		return err
	}, versionKey)
}

func (c *Cache) evict(ctx context.Context, collection string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, collectionVersionKey(collection)).Err()
	setKey := collectionKeysKey(collection)
	keys, err := c.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		keys = nil
	}
	_, _ = c.redis.Del(ctx, append(keys, setKey)...).Result()
}

func queryCacheKey(collection string, filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Field, f.Value))
	}
	sort.Strings(parts)
	return "snap:" + collection + "?" + strings.Join(parts, "&")
}

func collectionKeysKey(collection string) string {
	return "snapkeys:" + collection
}

func collectionVersionKey(collection string) string {
	return "snapver:" + collection
}

package cachestore

import (
	"context"
	"fmt"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"github.com/spaolacci/murmur3"
)

type RedisCacheStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ CacheStore = (*RedisCacheStore)(nil)

func NewRedisCacheStore(redisURL string, ttl time.Duration) (*RedisCacheStore, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, ttl),
	})
	return &RedisCacheStore{
		Data: data,
		TTL:  ttl,
	}, nil
}

// target IDs can be long URLs; keys carry a compact hash of the ID instead
func redisCacheKey(ref reviewable.TargetRef) string {
	return fmt.Sprintf("target/%s/%016x", ref.Type, murmur3.Sum64([]byte(ref.ID)))
}

func (s RedisCacheStore) Get(ctx context.Context, ref reviewable.TargetRef) (*reviewable.Target, error) {
	var val reviewable.Target
	err := s.Data.Get(ctx, redisCacheKey(ref), &val)
	if err == cache.ErrCacheMiss {
		countLookup("redis", false)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	countLookup("redis", true)
	return &val, nil
}

func (s RedisCacheStore) Set(ctx context.Context, t *reviewable.Target) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(t.Ref),
		Value: t,
		TTL:   s.TTL,
	})
}

func (s RedisCacheStore) Purge(ctx context.Context, ref reviewable.TargetRef) error {
	err := s.Data.Delete(ctx, redisCacheKey(ref))
	if err == cache.ErrCacheMiss {
		return nil
	}
	return err
}

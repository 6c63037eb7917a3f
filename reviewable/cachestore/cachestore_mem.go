package cachestore

import (
	"context"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemCacheStore struct {
	Data *expirable.LRU[reviewable.TargetRef, reviewable.Target]
}

var _ CacheStore = MemCacheStore{}

func NewMemCacheStore(capacity int, ttl time.Duration) MemCacheStore {
	return MemCacheStore{
		Data: expirable.NewLRU[reviewable.TargetRef, reviewable.Target](capacity, nil, ttl),
	}
}

func (s MemCacheStore) Get(ctx context.Context, ref reviewable.TargetRef) (*reviewable.Target, error) {
	v, ok := s.Data.Get(ref)
	countLookup("mem", ok)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s MemCacheStore) Set(ctx context.Context, t *reviewable.Target) error {
	s.Data.Add(t.Ref, *t)
	return nil
}

func (s MemCacheStore) Purge(ctx context.Context, ref reviewable.TargetRef) error {
	s.Data.Remove(ref)
	return nil
}

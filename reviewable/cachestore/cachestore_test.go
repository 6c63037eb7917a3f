package cachestore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCacheBasics(t *testing.T, cs CacheStore) {
	assert := assert.New(t)
	ctx := context.Background()
	ref := reviewable.TargetRef{ID: "123", Type: "post"}

	got, err := cs.Get(ctx, ref)
	assert.NoError(err)
	assert.Nil(got)

	assert.NoError(cs.Set(ctx, &reviewable.Target{Ref: ref, Title: "hello", Author: "bob"}))
	got, err = cs.Get(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal("hello", got.Title)
	assert.Equal("bob", got.Author)

	other, err := cs.Get(ctx, reviewable.TargetRef{ID: "123", Type: "user"})
	assert.NoError(err)
	assert.Nil(other)

	assert.NoError(cs.Purge(ctx, ref))
	got, err = cs.Get(ctx, ref)
	assert.NoError(err)
	assert.Nil(got)
}

func TestMemCacheStoreBasics(t *testing.T) {
	testCacheBasics(t, NewMemCacheStore(100, time.Hour))
}

func TestMemCacheStoreExpiry(t *testing.T) {
	cs := NewMemCacheStore(100, 10*time.Millisecond)
	ctx := context.Background()
	ref := reviewable.TargetRef{ID: "1", Type: "post"}
	assert.NoError(t, cs.Set(ctx, &reviewable.Target{Ref: ref}))
	time.Sleep(50 * time.Millisecond)
	got, err := cs.Get(ctx, ref)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheKey(t *testing.T) {
	assert := assert.New(t)
	long := reviewable.TargetRef{ID: "https://forum.example.com/t/" + strings.Repeat("a", 500), Type: "post"}

	key := redisCacheKey(long)
	assert.True(strings.HasPrefix(key, "target/post/"))
	assert.Len(key, len("target/post/")+16)
	assert.Equal(key, redisCacheKey(long))
	assert.NotEqual(key, redisCacheKey(reviewable.TargetRef{ID: long.ID, Type: "user"}))
	assert.NotEqual(key, redisCacheKey(reviewable.TargetRef{ID: "123", Type: "post"}))
}

func TestRedisCacheStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")

	cs, err := NewRedisCacheStore("redis://localhost:6379/0", time.Minute)
	if err != nil {
		t.Fail()
	}
	testCacheBasics(t, cs)
}

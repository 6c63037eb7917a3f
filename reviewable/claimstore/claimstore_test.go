package claimstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testGormClaimStore(t *testing.T) *GormClaimStore {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "claims.db")), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqldb.Close() })

	s := NewGormClaimStore(db)
	require.NoError(t, s.Migrate())
	return s
}

func eachClaimStore(t *testing.T, fn func(t *testing.T, s reviewable.ClaimStore)) {
	t.Run("mem", func(t *testing.T) { fn(t, NewMemClaimStore()) })
	t.Run("gorm", func(t *testing.T) { fn(t, testGormClaimStore(t)) })
}

func testClaimBasics(t *testing.T, s reviewable.ClaimStore) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	c, err := s.Holder(ctx, 7)
	assert.NoError(err)
	assert.Nil(c)

	a, err := s.Acquire(ctx, 7, "alice", now)
	require.NoError(t, err)
	assert.Equal("alice", a.Holder)
	assert.Equal(int64(7), a.ReviewableID)

	// idempotent for the holder, acquired_at unchanged
	again, err := s.Acquire(ctx, 7, "alice", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(again.AcquiredAt.Equal(now))

	_, err = s.Acquire(ctx, 7, "bob", now)
	var cce *reviewable.ClaimConflictError
	require.True(t, errors.As(err, &cce))
	assert.Equal("alice", cce.Holder)
	assert.ErrorIs(err, reviewable.ErrClaimConflict)

	assert.ErrorIs(s.Release(ctx, 7, "bob"), reviewable.ErrPermissionDenied)
	assert.ErrorIs(s.Release(ctx, 8, "alice"), reviewable.ErrPermissionDenied)

	holders, err := s.Holders(ctx, []int64{7, 8})
	require.NoError(t, err)
	assert.Len(holders, 1)
	assert.Equal("alice", holders[7].Holder)

	assert.NoError(s.Release(ctx, 7, "alice"))
	c, err = s.Holder(ctx, 7)
	assert.NoError(err)
	assert.Nil(c)

	_, err = s.Acquire(ctx, 7, "bob", now)
	require.NoError(t, err)
	assert.NoError(s.Clear(ctx, 7))
	assert.NoError(s.Clear(ctx, 7))
	c, err = s.Holder(ctx, 7)
	assert.NoError(err)
	assert.Nil(c)
}

func TestClaimStoreBasics(t *testing.T) {
	eachClaimStore(t, testClaimBasics)
}

func TestMemClaimStoreExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemClaimStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := map[string]bool{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := fmt.Sprintf("mod-%d", i)
			if _, err := s.Acquire(ctx, 1, holder, time.Now()); err == nil {
				mu.Lock()
				winners[holder] = true
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, winners, 1)
}

func TestRedisClaimStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")

	s, err := NewRedisClaimStore("redis://localhost:6379/0")
	if err != nil {
		t.Fail()
	}
	assert.NoError(t, s.Clear(context.Background(), 7))
	testClaimBasics(t, s)
}

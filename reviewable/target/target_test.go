package target

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"
	"github.com/discourse/discourse-sub052/reviewable/cachestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	r := NewStaticResolver()
	ref := reviewable.TargetRef{ID: "1", Type: "post"}
	r.Add(reviewable.Target{Ref: ref, Title: "first post"})

	got, err := r.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal("first post", got.Title)

	bare, err := r.Resolve(ctx, reviewable.TargetRef{ID: "2", Type: "post"})
	require.NoError(t, err)
	assert.Equal("2", bare.Ref.ID)
	assert.Empty(bare.Title)
}

func TestHTTPResolver(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/targets/post/42":
			json.NewEncoder(w).Encode(reviewable.Target{Title: "spammy", Author: "mallory"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	res := NewHTTPResolver(srv.URL+"/", nil)
	got, err := res.Resolve(ctx, reviewable.TargetRef{ID: "42", Type: "post"})
	require.NoError(t, err)
	assert.Equal("spammy", got.Title)
	assert.Equal("mallory", got.Author)
	assert.Equal("42", got.Ref.ID)

	_, err = res.Resolve(ctx, reviewable.TargetRef{ID: "43", Type: "post"})
	assert.ErrorIs(err, reviewable.ErrNotFound)
}

type countingResolver struct {
	calls atomic.Int32
}

func (c *countingResolver) Resolve(ctx context.Context, ref reviewable.TargetRef) (*reviewable.Target, error) {
	c.calls.Add(1)
	return &reviewable.Target{Ref: ref, Title: "t-" + ref.ID}, nil
}

func TestCachingResolver(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	inner := &countingResolver{}
	res := NewCachingResolver(inner, cachestore.NewMemCacheStore(10, time.Hour), nil)
	ref := reviewable.TargetRef{ID: "9", Type: "post"}

	for i := 0; i < 3; i++ {
		got, err := res.Resolve(ctx, ref)
		require.NoError(t, err)
		assert.Equal("t-9", got.Title)
	}
	assert.Equal(int32(1), inner.calls.Load())

	require.NoError(t, res.Purge(ctx, ref))
	_, err := res.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(int32(2), inner.calls.Load())
}

// Package target resolves reviewable.TargetRef values into displayable
// content: from a fixed map, from an HTTP content service, or through a
// cache in front of either.
package target

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/discourse/discourse-sub052/reviewable"
	"github.com/discourse/discourse-sub052/reviewable/cachestore"
	"github.com/discourse/discourse-sub052/util"
)

// StaticResolver serves targets from memory. Unknown refs resolve to a bare
// Target carrying only the ref, so a missing lookup never blocks review.
type StaticResolver struct {
	mu      sync.RWMutex
	targets map[reviewable.TargetRef]reviewable.Target
}

var _ reviewable.TargetResolver = (*StaticResolver)(nil)

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{targets: make(map[reviewable.TargetRef]reviewable.Target)}
}

func (r *StaticResolver) Add(t reviewable.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.Ref] = t
}

func (r *StaticResolver) Resolve(ctx context.Context, ref reviewable.TargetRef) (*reviewable.Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[ref]
	if !ok {
		return &reviewable.Target{Ref: ref}, nil
	}
	return &t, nil
}

// HTTPResolver fetches targets as JSON from
// <base>/targets/<type>/<id>, retrying transient failures.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

var _ reviewable.TargetResolver = (*HTTPResolver)(nil)

func NewHTTPResolver(baseURL string, logger *slog.Logger) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  util.RobustHTTPClient(logger),
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, ref reviewable.TargetRef) (*reviewable.Target, error) {
	u := fmt.Sprintf("%s/targets/%s/%s", r.baseURL, url.PathEscape(ref.Type), url.PathEscape(ref.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching target %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: target %s", reviewable.ErrNotFound, ref)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching target %s: status %d", ref, resp.StatusCode)
	}
	var t reviewable.Target
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decoding target %s: %w", ref, err)
	}
	t.Ref = ref
	return &t, nil
}

// CachingResolver fronts another resolver with a CacheStore. Cache errors
// are logged and fall through to the inner resolver.
type CachingResolver struct {
	inner  reviewable.TargetResolver
	cache  cachestore.CacheStore
	logger *slog.Logger
}

var _ reviewable.TargetResolver = (*CachingResolver)(nil)

func NewCachingResolver(inner reviewable.TargetResolver, cache cachestore.CacheStore, logger *slog.Logger) *CachingResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingResolver{
		inner:  inner,
		cache:  cache,
		logger: logger.With("component", "target-cache"),
	}
}

func (r *CachingResolver) Resolve(ctx context.Context, ref reviewable.TargetRef) (*reviewable.Target, error) {
	t, err := r.cache.Get(ctx, ref)
	if err != nil {
		r.logger.Warn("target cache read failed", "target", ref.String(), "err", err)
	} else if t != nil {
		return t, nil
	}

	t, err = r.inner.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, t); err != nil {
		r.logger.Warn("target cache write failed", "target", ref.String(), "err", err)
	}
	return t, nil
}

// Purge drops a cached target, eg after the content was edited.
func (r *CachingResolver) Purge(ctx context.Context, ref reviewable.TargetRef) error {
	return r.cache.Purge(ctx, ref)
}

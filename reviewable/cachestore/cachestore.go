package cachestore

import (
	"context"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type CacheStore interface {
	// Get returns nil, without error, on a miss.
	Get(ctx context.Context, ref reviewable.TargetRef) (*reviewable.Target, error)
	Set(ctx context.Context, t *reviewable.Target) error
	Purge(ctx context.Context, ref reviewable.TargetRef) error
}

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reviewqueue_target_cache_lookups_total",
	Help: "Target cache lookups by backend and result",
}, []string{"backend", "result"})

func countLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(backend, result).Inc()
}

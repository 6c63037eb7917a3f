// Package eventbus delivers reviewable domain events to downstream
// consumers: in memory, a redis stream, a JSON webhook, or slack.
package eventbus

import (
	"context"
	"sync"

	"github.com/discourse/discourse-sub052/reviewable"

	"golang.org/x/sync/errgroup"
)

// MemBus records every published event. Useful in tests and as a local tap.
type MemBus struct {
	mu     sync.Mutex
	events []reviewable.Event
}

var _ reviewable.EventBus = (*MemBus)(nil)

func NewMemBus() *MemBus {
	return &MemBus{}
}

func (b *MemBus) Publish(ctx context.Context, evt *reviewable.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *evt)
	return nil
}

// Events returns a copy of everything published so far, oldest first.
func (b *MemBus) Events() []reviewable.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]reviewable.Event(nil), b.events...)
}

// MultiBus publishes to every bus concurrently. It fails if any bus fails,
// but every bus is always attempted.
type MultiBus []reviewable.EventBus

var _ reviewable.EventBus = MultiBus(nil)

func (m MultiBus) Publish(ctx context.Context, evt *reviewable.Event) error {
	// not errgroup.WithContext: one failing bus must not cancel the others
	var g errgroup.Group
	for _, bus := range m {
		g.Go(func() error {
			return bus.Publish(ctx, evt)
		})
	}
	return g.Wait()
}

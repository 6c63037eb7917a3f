package claimstore

import (
	"context"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/puzpuzpuz/xsync/v3"
)

type MemClaimStore struct {
	claims *xsync.MapOf[int64, reviewable.Claim]
}

var _ reviewable.ClaimStore = (*MemClaimStore)(nil)

func NewMemClaimStore() *MemClaimStore {
	return &MemClaimStore{
		claims: xsync.NewMapOf[int64, reviewable.Claim](),
	}
}

func (s *MemClaimStore) Acquire(ctx context.Context, id int64, holder string, now time.Time) (reviewable.Claim, error) {
	// Compute runs under the bucket lock, so check-and-set is atomic
	c, _ := s.claims.Compute(id, func(old reviewable.Claim, loaded bool) (reviewable.Claim, bool) {
		if loaded {
			return old, false
		}
		return reviewable.Claim{ReviewableID: id, Holder: holder, AcquiredAt: now}, false
	})
	if c.Holder != holder {
		return reviewable.Claim{}, &reviewable.ClaimConflictError{ID: id, Holder: c.Holder}
	}
	return c, nil
}

func (s *MemClaimStore) Release(ctx context.Context, id int64, holder string) error {
	released := false
	s.claims.Compute(id, func(old reviewable.Claim, loaded bool) (reviewable.Claim, bool) {
		if !loaded {
			return old, true
		}
		if old.Holder != holder {
			return old, false
		}
		released = true
		return old, true
	})
	if !released {
		return notHolder(id, holder)
	}
	return nil
}

func (s *MemClaimStore) Clear(ctx context.Context, id int64) error {
	s.claims.Delete(id)
	return nil
}

func (s *MemClaimStore) Holder(ctx context.Context, id int64) (*reviewable.Claim, error) {
	c, ok := s.claims.Load(id)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemClaimStore) Holders(ctx context.Context, ids []int64) (map[int64]reviewable.Claim, error) {
	out := make(map[int64]reviewable.Claim)
	for _, id := range ids {
		if c, ok := s.claims.Load(id); ok {
			out[id] = c
		}
	}
	return out, nil
}

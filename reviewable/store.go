package reviewable

import (
	"context"
	"time"
)

// ReviewedMarker stamps all not-yet-reviewed scores on a reviewable.
type ReviewedMarker struct {
	By string
	At time.Time
}

// Mutation is what a MutateFunc asks the store to write alongside the
// updated reviewable row, in the same atomic step.
type Mutation struct {
	AddScores    []Score
	History      *HistoryEntry
	MarkReviewed *ReviewedMarker
}

// MutateFunc edits the current reviewable in place. The store loads r with
// its scores, and owns the version bump: implementations must not touch
// r.Version. Returning an error aborts the swap.
type MutateFunc func(r *Reviewable) (*Mutation, error)

// PersistenceStore is the only path to durable reviewable state. Every
// mutation goes through CompareAndSwap.
type PersistenceStore interface {
	// Create assigns an ID and stores r at version 0, together with any
	// initial r.Scores.
	Create(ctx context.Context, r *Reviewable) (*Reviewable, error)
	// Load returns the reviewable with Scores and History, or ErrNotFound.
	Load(ctx context.Context, id int64) (*Reviewable, error)
	// FindByTarget returns the most recent reviewable of typ for target, or
	// ErrNotFound.
	FindByTarget(ctx context.Context, typ string, target TargetRef) (*Reviewable, error)
	// CompareAndSwap applies fn iff the stored version equals expected,
	// bumping the version by one. A mismatch is a *VersionConflictError.
	CompareAndSwap(ctx context.Context, id int64, expected int64, fn MutateFunc) (*Reviewable, error)
	// List returns matching reviewables in triage order, without scores or
	// history. Claim fields of the filter are ignored by stores.
	List(ctx context.Context, filter ListFilter) ([]*Reviewable, error)
	History(ctx context.Context, id int64) ([]HistoryEntry, error)
	Scores(ctx context.Context, id int64) ([]Score, error)
	// CountPending returns the number of pending reviewables per priority.
	CountPending(ctx context.Context) (map[Priority]int, error)
}

// ClaimStore coordinates exclusive claims. It is independent of the
// reviewable version: claims never bump it.
type ClaimStore interface {
	// Acquire succeeds if the reviewable is unclaimed or already held by
	// holder; otherwise it returns a *ClaimConflictError.
	Acquire(ctx context.Context, id int64, holder string, now time.Time) (Claim, error)
	// Release fails with ErrPermissionDenied unless holder holds the claim.
	Release(ctx context.Context, id int64, holder string) error
	// Clear drops any claim regardless of holder.
	Clear(ctx context.Context, id int64) error
	// Holder returns the live claim, or nil.
	Holder(ctx context.Context, id int64) (*Claim, error)
	Holders(ctx context.Context, ids []int64) (map[int64]Claim, error)
}

// Guardian decides what an actor may do. One method per capability.
type Guardian interface {
	CanPerform(action Action, r *Reviewable, actor Actor) bool
	CanEdit(r *Reviewable, actor Actor) bool
	CanClaim(r *Reviewable, actor Actor) bool
	CanSee(r *Reviewable, actor Actor) bool
}

// EventBus receives domain events. Delivery is fire-and-forget from the
// queue's point of view; durable retry belongs to the bus.
type EventBus interface {
	Publish(ctx context.Context, evt *Event) error
}

// TargetResolver looks up the content or account a reviewable points at.
type TargetResolver interface {
	Resolve(ctx context.Context, ref TargetRef) (*Target, error)
}

package reviewable

import (
	"context"
	"time"
)

type EventKind string

const (
	EventCreated      EventKind = "reviewable.created"
	EventScored       EventKind = "reviewable.scored"
	EventTransitioned EventKind = "reviewable.transitioned"
	EventEdited       EventKind = "reviewable.edited"
)

// Event is published after a mutation commits. Consumers do the side
// effects: publishing an approved post, notifying flaggers, and so on.
type Event struct {
	Kind         EventKind `json:"kind"`
	ReviewableID int64     `json:"reviewable_id"`
	Type         string    `json:"type"`
	Target       TargetRef `json:"target"`
	Action       string    `json:"action,omitempty"`
	Verb         Verb      `json:"verb,omitempty"`
	OldStatus    Status    `json:"old_status,omitempty"`
	NewStatus    Status    `json:"new_status"`
	Actor        string    `json:"actor,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Score        float64   `json:"score"`
	Version      int64     `json:"version"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// SideEffects reports whether the work that follows a committed mutation
// (publishing its event, clearing a resolved claim) completed.
type SideEffects string

const (
	SideEffectsDelivered SideEffects = "delivered"
	// the mutation committed but a follow-up failed
	SideEffectsPending SideEffects = "pending"
)

type nopBus struct{}

func (nopBus) Publish(context.Context, *Event) error { return nil }

// NopBus discards all events.
var NopBus EventBus = nopBus{}

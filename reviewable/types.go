package reviewable

import (
	"fmt"
	"strings"
	"time"
)

// Status is the moderation status of a Reviewable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusIgnored  Status = "ignored"
	StatusDeleted  Status = "deleted"
)

var allStatuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusIgnored, StatusDeleted}

// Terminal reports whether no further action other than revert applies.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusIgnored, StatusDeleted:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	for _, s := range allStatuses {
		if strings.EqualFold(raw, string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// Priority is the coarse triage bucket derived from the aggregate score.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ParsePriority(raw string) (Priority, error) {
	switch Priority(strings.ToLower(raw)) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, raw)
}

// TargetRef is an opaque pointer at the content or account under review.
type TargetRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (t TargetRef) String() string {
	return t.Type + "/" + t.ID
}

// Actor is whoever is acting on the queue, as seen by the Guardian.
type Actor struct {
	ID         string  `json:"id"`
	Admin      bool    `json:"admin,omitempty"`
	Moderator  bool    `json:"moderator,omitempty"`
	TrustLevel int     `json:"trust_level,omitempty"`
	Categories []int64 `json:"categories,omitempty"`
}

// Reviewable is one unit of flagged or queued content awaiting a decision.
type Reviewable struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Status     Status    `json:"status"`
	Score      float64   `json:"score"`
	Priority   Priority  `json:"priority"`
	Version    int64     `json:"version"`
	Target     TargetRef `json:"target"`
	CategoryID *int64    `json:"category_id,omitempty"`
	TopicID    *int64    `json:"topic_id,omitempty"`
	ClaimedBy  *string   `json:"claimed_by,omitempty"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Payload    Payload   `json:"payload"`

	// populated by PersistenceStore.Load; List leaves them empty
	Scores  []Score        `json:"scores,omitempty"`
	History []HistoryEntry `json:"history,omitempty"`
}

// Clone returns a deep copy, so stores can hand out values without sharing
// slices or pointers with their own state.
func (r *Reviewable) Clone() *Reviewable {
	if r == nil {
		return nil
	}
	out := *r
	if r.CategoryID != nil {
		v := *r.CategoryID
		out.CategoryID = &v
	}
	if r.TopicID != nil {
		v := *r.TopicID
		out.TopicID = &v
	}
	if r.ClaimedBy != nil {
		v := *r.ClaimedBy
		out.ClaimedBy = &v
	}
	out.Payload = r.Payload.Clone()
	if r.Scores != nil {
		out.Scores = make([]Score, len(r.Scores))
		for i, s := range r.Scores {
			out.Scores[i] = s.clone()
		}
	}
	if r.History != nil {
		out.History = append([]HistoryEntry(nil), r.History...)
	}
	return &out
}

// Score is one flagger's recorded contribution to a Reviewable.
//
// Rows are immutable once recorded, except for the reviewed marker which is
// set when the reviewable reaches a terminal status.
type Score struct {
	ID              int64      `json:"id"`
	ReviewableID    int64      `json:"reviewable_id"`
	ScorerID        string     `json:"scorer_id"`
	ScoreType       string     `json:"score_type"`
	Value           float64    `json:"value"`
	TypeBonus       float64    `json:"type_bonus"`
	TrustLevelBonus float64    `json:"trust_level_bonus"`
	TakeActionBonus float64    `json:"take_action_bonus"`
	AccuracyBonus   float64    `json:"accuracy_bonus"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy      *string    `json:"reviewed_by,omitempty"`
}

// Raw is the unclamped contribution of this row.
func (s Score) Raw() float64 {
	return s.Value + s.TypeBonus + s.TrustLevelBonus + s.TakeActionBonus + s.AccuracyBonus
}

func (s Score) clone() Score {
	out := s
	if s.ReviewedAt != nil {
		v := *s.ReviewedAt
		out.ReviewedAt = &v
	}
	if s.ReviewedBy != nil {
		v := *s.ReviewedBy
		out.ReviewedBy = &v
	}
	return out
}

// ScoreComponents is the input to AddScore.
type ScoreComponents struct {
	ScoreType       string  `json:"score_type"`
	Value           float64 `json:"value"`
	TypeBonus       float64 `json:"type_bonus"`
	TrustLevelBonus float64 `json:"trust_level_bonus"`
	TakeActionBonus float64 `json:"take_action_bonus"`
	AccuracyBonus   float64 `json:"accuracy_bonus"`
	Reason          string  `json:"reason,omitempty"`
}

// HistoryEntry records one transition. Entries are append-only.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	ReviewableID int64     `json:"reviewable_id"`
	OldStatus    Status    `json:"old_status"`
	NewStatus    Status    `json:"new_status"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	Reason       string    `json:"reason,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Claim is an advisory, exclusive assignment of a reviewable to one moderator.
type Claim struct {
	ReviewableID int64     `json:"reviewable_id"`
	Holder       string    `json:"holder"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// Action is a resolved, presentable action. It is derived from the catalog
// and the reviewable's current state and never persisted.
type Action struct {
	ID             string `json:"id"`
	Verb           Verb   `json:"verb"`
	Label          string `json:"label"`
	ConfirmMessage string `json:"confirm_message,omitempty"`
	ClientAction   string `json:"client_action,omitempty"`
	Icon           string `json:"icon,omitempty"`
	Description    string `json:"description,omitempty"`
}

// BundledAction groups related actions for presentation.
type BundledAction struct {
	ID      string   `json:"id"`
	Icon    string   `json:"icon,omitempty"`
	Label   string   `json:"label"`
	Actions []Action `json:"actions"`
}

// Target is what a TargetResolver returns for a TargetRef. Read-only.
type Target struct {
	Ref     TargetRef         `json:"ref"`
	Title   string            `json:"title,omitempty"`
	Excerpt string            `json:"excerpt,omitempty"`
	URL     string            `json:"url,omitempty"`
	Author  string            `json:"author,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	Status     Status
	Type       string
	CategoryID *int64
	MinScore   float64
	Priority   Priority
	ClaimedBy  string
	Unclaimed  bool
	Limit      int
	Offset     int
}

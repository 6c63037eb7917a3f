package reviewable

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Thresholds are the score cut-offs for priority tiers. A score below Medium
// is low priority; below High is medium; anything else is high.
type Thresholds struct {
	Medium float64
	High   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 5, High: 10}
}

func (t Thresholds) Validate() error {
	if t.Medium < 0 || t.High < 0 {
		return fmt.Errorf("%w: priority thresholds must be non-negative", ErrValidation)
	}
	if t.High < t.Medium {
		return fmt.Errorf("%w: high threshold %v below medium threshold %v", ErrValidation, t.High, t.Medium)
	}
	return nil
}

const (
	// flaggers need this many resolved flags before accuracy counts
	minFlagsForAccuracy = 5
	// DefaultMaxAccuracyBonus bounds UserAccuracyBonus in both directions.
	DefaultMaxAccuracyBonus = 5.0
	maxTrustLevel           = 4
)

// ScoreAggregator folds recorded scores into a reviewable's total score and
// priority tier.
type ScoreAggregator struct {
	thresholds Thresholds
}

func NewScoreAggregator(t Thresholds) (*ScoreAggregator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &ScoreAggregator{thresholds: t}, nil
}

func (a *ScoreAggregator) Thresholds() Thresholds {
	return a.thresholds
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate rejects negative raw values instead of flooring them. Only the
// accuracy bonus may be negative.
func (a *ScoreAggregator) Validate(scorer string, c ScoreComponents) error {
	if scorer == "" {
		return fmt.Errorf("%w: scorer required", ErrValidation)
	}
	for name, v := range map[string]float64{
		"value":             c.Value,
		"type_bonus":        c.TypeBonus,
		"trust_level_bonus": c.TrustLevelBonus,
		"take_action_bonus": c.TakeActionBonus,
		"accuracy_bonus":    c.AccuracyBonus,
	} {
		if !finite(v) {
			return fmt.Errorf("%w: %s is not a finite number", ErrValidation, name)
		}
	}
	if c.Value < 0 {
		return fmt.Errorf("%w: negative score contribution %v", ErrValidation, c.Value)
	}
	if c.TypeBonus < 0 || c.TrustLevelBonus < 0 || c.TakeActionBonus < 0 {
		return fmt.Errorf("%w: score bonuses must be non-negative", ErrValidation)
	}
	return nil
}

// NewScore validates components and builds the row to record.
func (a *ScoreAggregator) NewScore(reviewableID int64, scorer string, c ScoreComponents, now time.Time) (Score, error) {
	if err := a.Validate(scorer, c); err != nil {
		return Score{}, err
	}
	scoreType := c.ScoreType
	if scoreType == "" {
		scoreType = "custom"
	}
	return Score{
		ReviewableID:    reviewableID,
		ScorerID:        scorer,
		ScoreType:       scoreType,
		Value:           c.Value,
		TypeBonus:       c.TypeBonus,
		TrustLevelBonus: c.TrustLevelBonus,
		TakeActionBonus: c.TakeActionBonus,
		AccuracyBonus:   c.AccuracyBonus,
		Reason:          c.Reason,
		CreatedAt:       now,
	}, nil
}

// perScorer sums raw contributions by scorer.
func perScorer(scores []Score) map[string]float64 {
	out := make(map[string]float64)
	for _, s := range scores {
		out[s.ScorerID] += s.Raw()
	}
	return out
}

// Aggregate is the sum of each scorer's contribution floored at zero. Scorers
// are summed in sorted order so the float result does not depend on the
// order rows were recorded in.
func (a *ScoreAggregator) Aggregate(scores []Score) float64 {
	by := perScorer(scores)
	ids := make([]string, 0, len(by))
	for id := range by {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	total := 0.0
	for _, id := range ids {
		total += math.Max(0, by[id])
	}
	return total
}

func (a *ScoreAggregator) Tier(score float64) Priority {
	switch {
	case score >= a.thresholds.High:
		return PriorityHigh
	case score >= a.thresholds.Medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Recompute refreshes Score and Priority from r.Scores.
func (a *ScoreAggregator) Recompute(r *Reviewable) {
	r.Score = a.Aggregate(r.Scores)
	r.Priority = a.Tier(r.Score)
}

// ScorerBreakdown is one scorer's share of the total.
type ScorerBreakdown struct {
	ScorerID string  `json:"scorer_id"`
	Raw      float64 `json:"raw"`
	Counted  float64 `json:"counted"`
	Rows     int     `json:"rows"`
}

// ComponentBreakdown sums each bonus over all rows.
type ComponentBreakdown struct {
	Value           float64 `json:"value"`
	TypeBonus       float64 `json:"type_bonus"`
	TrustLevelBonus float64 `json:"trust_level_bonus"`
	TakeActionBonus float64 `json:"take_action_bonus"`
	AccuracyBonus   float64 `json:"accuracy_bonus"`
}

type ScoreExplanation struct {
	ReviewableID int64              `json:"reviewable_id"`
	Total        float64            `json:"total"`
	Priority     Priority           `json:"priority"`
	Components   ComponentBreakdown `json:"components"`
	Scorers      []ScorerBreakdown  `json:"scorers"`
	Scores       []Score            `json:"scores"`
}

func (a *ScoreAggregator) Explain(r *Reviewable) ScoreExplanation {
	exp := ScoreExplanation{
		ReviewableID: r.ID,
		Total:        a.Aggregate(r.Scores),
		Scores:       append([]Score(nil), r.Scores...),
	}
	exp.Priority = a.Tier(exp.Total)
	rows := make(map[string]int)
	for _, s := range r.Scores {
		exp.Components.Value += s.Value
		exp.Components.TypeBonus += s.TypeBonus
		exp.Components.TrustLevelBonus += s.TrustLevelBonus
		exp.Components.TakeActionBonus += s.TakeActionBonus
		exp.Components.AccuracyBonus += s.AccuracyBonus
		rows[s.ScorerID]++
	}
	for id, raw := range perScorer(r.Scores) {
		exp.Scorers = append(exp.Scorers, ScorerBreakdown{
			ScorerID: id,
			Raw:      raw,
			Counted:  math.Max(0, raw),
			Rows:     rows[id],
		})
	}
	sort.Slice(exp.Scorers, func(i, j int) bool {
		if exp.Scorers[i].Counted != exp.Scorers[j].Counted {
			return exp.Scorers[i].Counted > exp.Scorers[j].Counted
		}
		return exp.Scorers[i].ScorerID < exp.Scorers[j].ScorerID
	})
	return exp
}

// UserAccuracyBonus weighs a flagger by how often their past flags were
// agreed with. It is zero until the flagger has enough resolved flags.
func UserAccuracyBonus(agreed, disagreed int, maxBonus float64) float64 {
	total := agreed + disagreed
	if total < minFlagsForAccuracy || agreed < 0 || disagreed < 0 {
		return 0
	}
	ratio := float64(agreed) / float64(total)
	bonus := (ratio - 0.5) * 2 * maxBonus
	return math.Max(-maxBonus, math.Min(maxBonus, bonus))
}

func TrustLevelBonus(level int) float64 {
	if level < 0 {
		return 0
	}
	if level > maxTrustLevel {
		level = maxTrustLevel
	}
	return float64(level)
}

// SortForTriage orders reviewables by score descending, then oldest first,
// then by id, so equal scores are served FIFO.
func SortForTriage(items []*Reviewable) {
	sort.SliceStable(items, func(i, j int) bool {
		return TriageLess(items[i], items[j])
	})
}

func TriageLess(a, b *Reviewable) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

package reviewable

import (
	"math"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAggregator(t *testing.T) *ScoreAggregator {
	agg, err := NewScoreAggregator(DefaultThresholds())
	require.NoError(t, err)
	return agg
}

func TestAggregateTwoFlaggers(t *testing.T) {
	assert := assert.New(t)
	agg := testAggregator(t)
	now := time.Now()

	a, err := agg.NewScore(1, "alice", ScoreComponents{ScoreType: "spam", Value: 3}, now)
	require.NoError(t, err)
	b, err := agg.NewScore(1, "bob", ScoreComponents{Value: 2}, now)
	require.NoError(t, err)
	assert.Equal("custom", b.ScoreType)

	r := &Reviewable{Scores: []Score{a, b}}
	agg.Recompute(r)
	assert.Equal(5.0, r.Score)
	assert.Equal(PriorityMedium, r.Priority)
}

func TestTier(t *testing.T) {
	assert := assert.New(t)
	agg := testAggregator(t)

	assert.Equal(PriorityLow, agg.Tier(0))
	assert.Equal(PriorityLow, agg.Tier(4.99))
	assert.Equal(PriorityMedium, agg.Tier(5))
	assert.Equal(PriorityMedium, agg.Tier(9.5))
	assert.Equal(PriorityHigh, agg.Tier(10))

	_, err := NewScoreAggregator(Thresholds{Medium: 10, High: 5})
	assert.ErrorIs(err, ErrValidation)
	_, err = NewScoreAggregator(Thresholds{Medium: -1, High: 5})
	assert.ErrorIs(err, ErrValidation)
}

func TestScoreValidation(t *testing.T) {
	assert := assert.New(t)
	agg := testAggregator(t)

	assert.ErrorIs(agg.Validate("", ScoreComponents{Value: 1}), ErrValidation)
	assert.ErrorIs(agg.Validate("a", ScoreComponents{Value: -1}), ErrValidation)
	assert.ErrorIs(agg.Validate("a", ScoreComponents{Value: math.NaN()}), ErrValidation)
	assert.ErrorIs(agg.Validate("a", ScoreComponents{Value: 1, TypeBonus: math.Inf(1)}), ErrValidation)
	assert.ErrorIs(agg.Validate("a", ScoreComponents{Value: 1, TrustLevelBonus: -1}), ErrValidation)
	assert.NoError(agg.Validate("a", ScoreComponents{Value: 1, AccuracyBonus: -3}))
}

func TestPerScorerFloor(t *testing.T) {
	assert := assert.New(t)
	agg := testAggregator(t)

	// a flagger with a poor record contributes nothing, never less
	r := &Reviewable{ID: 4, Scores: []Score{
		{ScorerID: "troll", Value: 1, AccuracyBonus: -5},
		{ScorerID: "alice", Value: 2, TrustLevelBonus: 1},
	}}
	agg.Recompute(r)
	assert.Equal(3.0, r.Score)

	exp := agg.Explain(r)
	assert.Equal(3.0, exp.Total)
	require.Len(t, exp.Scorers, 2)
	assert.Equal("alice", exp.Scorers[0].ScorerID)
	assert.Equal(3.0, exp.Scorers[0].Counted)
	assert.Equal("troll", exp.Scorers[1].ScorerID)
	assert.Equal(-4.0, exp.Scorers[1].Raw)
	assert.Equal(0.0, exp.Scorers[1].Counted)
	assert.Equal(3.0, exp.Components.Value)
	assert.Equal(-5.0, exp.Components.AccuracyBonus)
	assert.Len(exp.Scores, 2)
}

func TestAggregateOrderIndependent(t *testing.T) {
	agg := testAggregator(t)
	faker := gofakeit.New(42)

	scorers := []string{"alice", "bob", "carol", "dave"}
	for round := 0; round < 50; round++ {
		var scores []Score
		for i := 0; i < faker.Number(1, 20); i++ {
			scores = append(scores, Score{
				ScorerID:      scorers[faker.Number(0, len(scorers)-1)],
				Value:         float64(faker.Number(0, 10)),
				AccuracyBonus: float64(faker.Number(-5, 5)),
			})
		}
		want := agg.Aggregate(scores)
		assert.GreaterOrEqual(t, want, 0.0)

		shuffled := append([]Score(nil), scores...)
		faker.ShuffleAnySlice(shuffled)
		assert.Equal(t, want, agg.Aggregate(shuffled))
	}
}

func TestUserAccuracyBonus(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0.0, UserAccuracyBonus(4, 0, DefaultMaxAccuracyBonus))
	assert.Equal(5.0, UserAccuracyBonus(10, 0, DefaultMaxAccuracyBonus))
	assert.Equal(-5.0, UserAccuracyBonus(0, 10, DefaultMaxAccuracyBonus))
	assert.Equal(0.0, UserAccuracyBonus(5, 5, DefaultMaxAccuracyBonus))
	assert.InDelta(3.0, UserAccuracyBonus(8, 2, DefaultMaxAccuracyBonus), 1e-9)

	assert.Equal(0.0, TrustLevelBonus(-1))
	assert.Equal(2.0, TrustLevelBonus(2))
	assert.Equal(4.0, TrustLevelBonus(9))
}

func TestSortForTriage(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []*Reviewable{
		{ID: 1, Score: 2, CreatedAt: t0.Add(time.Hour)},
		{ID: 2, Score: 9, CreatedAt: t0.Add(2 * time.Hour)},
		{ID: 3, Score: 2, CreatedAt: t0},
		{ID: 4, Score: 2, CreatedAt: t0},
	}
	SortForTriage(items)
	var ids []int64
	for _, r := range items {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 3, 4, 1}, ids)
}

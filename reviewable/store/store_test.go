package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testGormStore(t *testing.T) *GormStore {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "review.db")), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqldb.Close() })

	s := NewGormStore(db)
	require.NoError(t, s.Migrate())
	return s
}

// testSharedGormStore opens several connections to one sqlite file so that
// writers really race. Transactions take the write lock at BEGIN and wait
// for it rather than failing with SQLITE_BUSY.
func testSharedGormStore(t *testing.T, conns int) *GormStore {
	dsn := filepath.Join(t.TempDir(), "review.db") + "?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(conns)
	t.Cleanup(func() { sqldb.Close() })

	s := NewGormStore(db)
	require.NoError(t, s.Migrate())
	return s
}

func eachStore(t *testing.T, fn func(t *testing.T, s reviewable.PersistenceStore)) {
	t.Run("mem", func(t *testing.T) { fn(t, NewMemStore()) })
	t.Run("gorm", func(t *testing.T) { fn(t, testGormStore(t)) })
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newItem(targetID string, score float64, created time.Time) *reviewable.Reviewable {
	cat := int64(7)
	return &reviewable.Reviewable{
		Type:       reviewable.TypeFlaggedPost,
		Status:     reviewable.StatusPending,
		Score:      score,
		Priority:   reviewable.PriorityLow,
		Target:     reviewable.TargetRef{ID: targetID, Type: "post"},
		CategoryID: &cat,
		CreatedBy:  "system",
		CreatedAt:  created,
		UpdatedAt:  created,
		Payload: reviewable.Payload{
			Kind: reviewable.PayloadFlag,
			Flag: &reviewable.FlagPayload{PostID: targetID, Excerpt: "spam spam"},
		},
		Scores: []reviewable.Score{{
			ScorerID:  "alice",
			ScoreType: "spam",
			Value:     score,
			CreatedAt: created,
		}},
	}
}

func TestCreateLoad(t *testing.T) {
	eachStore(t, func(t *testing.T, s reviewable.PersistenceStore) {
		assert := assert.New(t)
		ctx := context.Background()

		r, err := s.Create(ctx, newItem("p1", 3, t0))
		require.NoError(t, err)
		assert.NotZero(r.ID)
		assert.Equal(int64(0), r.Version)
		require.Len(t, r.Scores, 1)
		assert.Equal(r.ID, r.Scores[0].ReviewableID)
		assert.NotZero(r.Scores[0].ID)

		got, err := s.Load(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(reviewable.TypeFlaggedPost, got.Type)
		assert.Equal(reviewable.StatusPending, got.Status)
		assert.Equal("p1", got.Payload.Flag.PostID)
		assert.Equal(int64(7), *got.CategoryID)
		assert.True(got.CreatedAt.Equal(t0))

		_, err = s.Load(ctx, 9999)
		assert.ErrorIs(err, reviewable.ErrNotFound)
	})
}

func TestCreateDuplicateTarget(t *testing.T) {
	eachStore(t, func(t *testing.T, s reviewable.PersistenceStore) {
		ctx := context.Background()
		_, err := s.Create(ctx, newItem("p1", 1, t0))
		require.NoError(t, err)
		_, err = s.Create(ctx, newItem("p1", 1, t0))
		assert.ErrorIs(t, err, reviewable.ErrVersionConflict)

		found, err := s.FindByTarget(ctx, reviewable.TypeFlaggedPost, reviewable.TargetRef{ID: "p1", Type: "post"})
		require.NoError(t, err)
		assert.Equal(t, "p1", found.Target.ID)

		_, err = s.FindByTarget(ctx, reviewable.TypeQueuedPost, reviewable.TargetRef{ID: "p1", Type: "post"})
		assert.ErrorIs(t, err, reviewable.ErrNotFound)
	})
}

func TestCompareAndSwap(t *testing.T) {
	eachStore(t, func(t *testing.T, s reviewable.PersistenceStore) {
		assert := assert.New(t)
		ctx := context.Background()

		r, err := s.Create(ctx, newItem("p1", 3, t0))
		require.NoError(t, err)

		at := t0.Add(time.Minute)
		updated, err := s.CompareAndSwap(ctx, r.ID, 0, func(cur *reviewable.Reviewable) (*reviewable.Mutation, error) {
			cur.Status = reviewable.StatusApproved
			cur.UpdatedAt = at
			return &reviewable.Mutation{
				MarkReviewed: &reviewable.ReviewedMarker{By: "mod", At: at},
				History: &reviewable.HistoryEntry{
					OldStatus: reviewable.StatusPending,
					NewStatus: reviewable.StatusApproved,
					Actor:     "mod",
					Action:    "agree_and_keep",
					CreatedAt: at,
				},
			}, nil
		})
		require.NoError(t, err)
		assert.Equal(int64(1), updated.Version)
		assert.Equal(reviewable.StatusApproved, updated.Status)
		require.Len(t, updated.History, 1)
		assert.Equal(int64(1), updated.History[0].Version)
		assert.Equal("agree_and_keep", updated.History[0].Action)
		require.Len(t, updated.Scores, 1)
		require.NotNil(t, updated.Scores[0].ReviewedBy)
		assert.Equal("mod", *updated.Scores[0].ReviewedBy)

		// stale version
		_, err = s.CompareAndSwap(ctx, r.ID, 0, func(cur *reviewable.Reviewable) (*reviewable.Mutation, error) {
			t.Fatal("mutate called on stale version")
			return nil, nil
		})
		var vce *reviewable.VersionConflictError
		require.True(t, errors.As(err, &vce))
		assert.Equal(int64(0), vce.Expected)
		assert.Equal(int64(1), vce.Actual)

		// a failing mutation leaves state untouched
		boom := errors.New("boom")
		_, err = s.CompareAndSwap(ctx, r.ID, 1, func(cur *reviewable.Reviewable) (*reviewable.Mutation, error) {
			cur.Status = reviewable.StatusDeleted
			return nil, boom
		})
		assert.ErrorIs(err, boom)
		got, err := s.Load(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(reviewable.StatusApproved, got.Status)
		assert.Equal(int64(1), got.Version)

		hist, err := s.History(ctx, r.ID)
		require.NoError(t, err)
		assert.Len(hist, 1)

		_, err = s.CompareAndSwap(ctx, 4242, 0, func(cur *reviewable.Reviewable) (*reviewable.Mutation, error) {
			return nil, nil
		})
		assert.ErrorIs(err, reviewable.ErrNotFound)
		_, err = s.History(ctx, 4242)
		assert.ErrorIs(err, reviewable.ErrNotFound)
	})
}

func TestAddScoresAfterReview(t *testing.T) {
	eachStore(t, func(t *testing.T, s reviewable.PersistenceStore) {
		assert := assert.New(t)
		ctx := context.Background()

		r, err := s.Create(ctx, newItem("p1", 2, t0))
		require.NoError(t, err)
		updated, err := s.CompareAndSwap(ctx, r.ID, 0, func(cur *reviewable.Reviewable) (*reviewable.Mutation, error) {
			sc := reviewable.Score{ScorerID: "bob", ScoreType: "spam", Value: 4, CreatedAt: t0}
			cur.Score = 6
			cur.Priority = reviewable.PriorityMedium
			return &reviewable.Mutation{AddScores: []reviewable.Score{sc}}, nil
		})
		require.NoError(t, err)
		assert.Equal(6.0, updated.Score)
		assert.Equal(reviewable.PriorityMedium, updated.Priority)
		require.Len(t, updated.Scores, 2)
		assert.Equal("bob", updated.Scores[1].ScorerID)
		assert.Nil(updated.Scores[1].ReviewedAt)
		assert.Empty(updated.History)

		scores, err := s.Scores(ctx, r.ID)
		require.NoError(t, err)
		assert.Len(scores, 2)
	})
}

func TestListOrderAndFilters(t *testing.T) {
	eachStore(t, func(t *testing.T, s reviewable.PersistenceStore) {
		assert := assert.New(t)
		ctx := context.Background()

		items := []*reviewable.Reviewable{
			newItem("low-old", 2, t0),
			newItem("high", 12, t0.Add(time.Hour)),
			newItem("low-new", 2, t0.Add(2*time.Hour)),
			newItem("mid", 6, t0.Add(3*time.Hour)),
		}
		items[1].Priority = reviewable.PriorityHigh
		items[3].Priority = reviewable.PriorityMedium
		for _, r := range items {
			_, err := s.Create(ctx, r)
			require.NoError(t, err)
		}

		all, err := s.List(ctx, reviewable.ListFilter{})
		require.NoError(t, err)
		var order []string
		for _, r := range all {
			order = append(order, r.Target.ID)
			assert.Empty(r.Scores)
		}
		assert.Equal([]string{"high", "mid", "low-old", "low-new"}, order)

		page, err := s.List(ctx, reviewable.ListFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal("mid", page[0].Target.ID)
		assert.Equal("low-old", page[1].Target.ID)

		hi, err := s.List(ctx, reviewable.ListFilter{MinScore: 5})
		require.NoError(t, err)
		assert.Len(hi, 2)

		med, err := s.List(ctx, reviewable.ListFilter{Priority: reviewable.PriorityMedium})
		require.NoError(t, err)
		require.Len(t, med, 1)
		assert.Equal("mid", med[0].Target.ID)

		other := int64(99)
		none, err := s.List(ctx, reviewable.ListFilter{CategoryID: &other})
		require.NoError(t, err)
		assert.Empty(none)

		counts, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(2, counts[reviewable.PriorityLow])
		assert.Equal(1, counts[reviewable.PriorityMedium])
		assert.Equal(1, counts[reviewable.PriorityHigh])
	})
}

func TestConcurrentSwap(t *testing.T) {
	for name, s := range map[string]reviewable.PersistenceStore{
		"mem":  NewMemStore(),
		"gorm": testSharedGormStore(t, 8),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r, err := s.Create(ctx, newItem("p1", 1, t0))
			require.NoError(t, err)

			// many writers race on the same version; exactly one wins
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins, conflicts := 0, 0
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.CompareAndSwap(ctx, r.ID, 0, func(cur *reviewable.Reviewable) (*reviewable.Mutation, error) {
						cur.Status = reviewable.StatusRejected
						return &reviewable.Mutation{History: &reviewable.HistoryEntry{
							OldStatus: reviewable.StatusPending,
							NewStatus: reviewable.StatusRejected,
							Actor:     "mod",
							Action:    "reject",
						}}, nil
					})
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
					} else if errors.Is(err, reviewable.ErrVersionConflict) {
						conflicts++
					} else {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
			assert.Equal(t, 15, conflicts)

			got, err := s.Load(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)
			assert.Len(t, got.History, 1)
		})
	}
}

func TestLostRace(t *testing.T) {
	s := testGormStore(t)
	ctx := context.Background()
	r, err := s.Create(ctx, newItem("p1", 1, t0))
	require.NoError(t, err)
	_, err = s.CompareAndSwap(ctx, r.ID, 0, func(cur *reviewable.Reviewable) (*reviewable.Mutation, error) {
		return nil, nil
	})
	require.NoError(t, err)

	err = lostRace(s.db, r.ID, 0)
	var vce *reviewable.VersionConflictError
	require.True(t, errors.As(err, &vce))
	assert.Equal(t, int64(1), vce.Actual)

	// a failed version read is reported as such, not as a conflict
	sqldb, err := s.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqldb.Close())
	err = lostRace(s.db, r.ID, 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, reviewable.ErrVersionConflict)
}

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/discourse/discourse-sub052/reviewable"
)

type targetKey struct {
	typ    string
	target reviewable.TargetRef
}

// MemStore keeps everything in process memory. All operations serialize on
// one mutex, so CompareAndSwap is trivially atomic.
type MemStore struct {
	mu        sync.RWMutex
	nextID    int64
	nextScore int64
	nextHist  int64
	rows      map[int64]*reviewable.Reviewable
	byTarget  map[targetKey]int64
}

var _ reviewable.PersistenceStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		rows:     make(map[int64]*reviewable.Reviewable),
		byTarget: make(map[targetKey]int64),
	}
}

func (s *MemStore) Create(ctx context.Context, r *reviewable.Reviewable) (*reviewable.Reviewable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := targetKey{typ: r.Type, target: r.Target}
	if _, ok := s.byTarget[key]; ok {
		return nil, duplicateTarget(r.Type, r.Target)
	}
	s.nextID++
	row := r.Clone()
	row.ID = s.nextID
	row.Version = 0
	row.ClaimedBy = nil
	row.History = nil
	for i := range row.Scores {
		s.nextScore++
		row.Scores[i].ID = s.nextScore
		row.Scores[i].ReviewableID = row.ID
	}
	s.rows[row.ID] = row
	s.byTarget[key] = row.ID
	return row.Clone(), nil
}

func (s *MemStore) Load(ctx context.Context, id int64) (*reviewable.Reviewable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, notFound(id)
	}
	return row.Clone(), nil
}

func (s *MemStore) FindByTarget(ctx context.Context, typ string, target reviewable.TargetRef) (*reviewable.Reviewable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTarget[targetKey{typ: typ, target: target}]
	if !ok {
		return nil, fmt.Errorf("%w: no %s reviewable for %s", reviewable.ErrNotFound, typ, target)
	}
	return s.rows[id].Clone(), nil
}

func (s *MemStore) CompareAndSwap(ctx context.Context, id int64, expected int64, fn reviewable.MutateFunc) (*reviewable.Reviewable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, notFound(id)
	}
	if row.Version != expected {
		return nil, &reviewable.VersionConflictError{ID: id, Expected: expected, Actual: row.Version}
	}

	// fn works on a copy; a failed mutation leaves the row untouched
	work := row.Clone()
	m, err := fn(work)
	if err != nil {
		return nil, err
	}
	work.ID = row.ID
	work.Version = row.Version + 1
	work.ClaimedBy = nil
	// scores come from the row plus m.AddScores, never from edits to work
	work.Scores = row.Clone().Scores
	work.History = row.Clone().History
	if m != nil {
		if m.MarkReviewed != nil {
			markReviewed(work.Scores, *m.MarkReviewed)
		}
		for _, sc := range m.AddScores {
			s.nextScore++
			sc.ID = s.nextScore
			sc.ReviewableID = id
			work.Scores = append(work.Scores, sc)
		}
		if m.History != nil {
			s.nextHist++
			h := *m.History
			h.ID = s.nextHist
			h.ReviewableID = id
			h.Version = work.Version
			work.History = append(work.History, h)
		}
	}
	s.rows[id] = work
	return work.Clone(), nil
}

func (s *MemStore) List(ctx context.Context, filter reviewable.ListFilter) ([]*reviewable.Reviewable, error) {
	s.mu.RLock()
	out := make([]*reviewable.Reviewable, 0, len(s.rows))
	for _, row := range s.rows {
		if !matches(row, filter) {
			continue
		}
		r := row.Clone()
		r.Scores = nil
		r.History = nil
		out = append(out, r)
	}
	s.mu.RUnlock()

	reviewable.SortForTriage(out)
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemStore) History(ctx context.Context, id int64) ([]reviewable.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, notFound(id)
	}
	return append([]reviewable.HistoryEntry{}, row.History...), nil
}

func (s *MemStore) Scores(ctx context.Context, id int64) ([]reviewable.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, notFound(id)
	}
	return row.Clone().Scores, nil
}

func (s *MemStore) CountPending(ctx context.Context) (map[reviewable.Priority]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := emptyCounts()
	for _, row := range s.rows {
		if row.Status == reviewable.StatusPending {
			out[row.Priority]++
		}
	}
	return out, nil
}

// Package store holds PersistenceStore implementations: MemStore for tests
// and single-process use, and GormStore over sqlite or postgres.
package store

import (
	"fmt"

	"github.com/discourse/discourse-sub052/reviewable"
)

func notFound(id int64) error {
	return fmt.Errorf("%w: reviewable %d", reviewable.ErrNotFound, id)
}

// A second Create for the same (type, target) lost a race with the first.
// Callers see a version conflict and retry through FindByTarget.
func duplicateTarget(typ string, target reviewable.TargetRef) error {
	return fmt.Errorf("%w: %s reviewable for %s already exists", reviewable.ErrVersionConflict, typ, target)
}

func matches(r *reviewable.Reviewable, f reviewable.ListFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.CategoryID != nil && (r.CategoryID == nil || *r.CategoryID != *f.CategoryID) {
		return false
	}
	if f.MinScore > 0 && r.Score < f.MinScore {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	return true
}

func paginate(items []*reviewable.Reviewable, limit, offset int) []*reviewable.Reviewable {
	if offset > 0 {
		if offset >= len(items) {
			return []*reviewable.Reviewable{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func emptyCounts() map[reviewable.Priority]int {
	return map[reviewable.Priority]int{
		reviewable.PriorityLow:    0,
		reviewable.PriorityMedium: 0,
		reviewable.PriorityHigh:   0,
	}
}

func markReviewed(scores []reviewable.Score, m reviewable.ReviewedMarker) {
	for i := range scores {
		if scores[i].ReviewedAt != nil {
			continue
		}
		at := m.At
		by := m.By
		scores[i].ReviewedAt = &at
		scores[i].ReviewedBy = &by
	}
}

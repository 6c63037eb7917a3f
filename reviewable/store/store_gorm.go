package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"gorm.io/gorm"
)

type ReviewableRow struct {
	ID         int64   `gorm:"primaryKey"`
	Type       string  `gorm:"not null;uniqueIndex:idx_reviewable_target"`
	TargetType string  `gorm:"not null;uniqueIndex:idx_reviewable_target"`
	TargetID   string  `gorm:"not null;uniqueIndex:idx_reviewable_target"`
	Status     string  `gorm:"not null;index"`
	Score      float64 `gorm:"not null;index"`
	Priority   string  `gorm:"not null"`
	Version    int64   `gorm:"not null"`
	CategoryID *int64  `gorm:"index"`
	TopicID    *int64
	CreatedBy  string             `gorm:"not null"`
	Payload    reviewable.Payload `gorm:"serializer:json"`
	CreatedAt  time.Time          `gorm:"not null;autoCreateTime:false"`
	UpdatedAt  time.Time          `gorm:"not null;autoUpdateTime:false"`
}

func (ReviewableRow) TableName() string { return "reviewables" }

type ScoreRow struct {
	ID              int64  `gorm:"primaryKey"`
	ReviewableID    int64  `gorm:"not null;index"`
	ScorerID        string `gorm:"not null"`
	ScoreType       string `gorm:"not null"`
	Value           float64
	TypeBonus       float64
	TrustLevelBonus float64
	TakeActionBonus float64
	AccuracyBonus   float64
	Reason          string
	CreatedAt       time.Time `gorm:"not null;autoCreateTime:false"`
	ReviewedAt      *time.Time
	ReviewedBy      *string
}

func (ScoreRow) TableName() string { return "reviewable_scores" }

type HistoryRow struct {
	ID           int64  `gorm:"primaryKey"`
	ReviewableID int64  `gorm:"not null;index"`
	OldStatus    string `gorm:"not null"`
	NewStatus    string `gorm:"not null"`
	Actor        string `gorm:"not null"`
	Action       string `gorm:"not null"`
	Reason       string
	Version      int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false"`
}

func (HistoryRow) TableName() string { return "reviewable_histories" }

// GormStore persists reviewables in SQL. CompareAndSwap runs in a
// transaction and guards the row update on the expected version, so it is
// safe across processes sharing a database.
type GormStore struct {
	db *gorm.DB
}

var _ reviewable.PersistenceStore = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&ReviewableRow{}, &ScoreRow{}, &HistoryRow{})
}

func toRow(r *reviewable.Reviewable) ReviewableRow {
	return ReviewableRow{
		ID:         r.ID,
		Type:       r.Type,
		TargetType: r.Target.Type,
		TargetID:   r.Target.ID,
		Status:     string(r.Status),
		Score:      r.Score,
		Priority:   string(r.Priority),
		Version:    r.Version,
		CategoryID: r.CategoryID,
		TopicID:    r.TopicID,
		CreatedBy:  r.CreatedBy,
		Payload:    r.Payload,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func fromRow(row *ReviewableRow) *reviewable.Reviewable {
	return &reviewable.Reviewable{
		ID:         row.ID,
		Type:       row.Type,
		Status:     reviewable.Status(row.Status),
		Score:      row.Score,
		Priority:   reviewable.Priority(row.Priority),
		Version:    row.Version,
		Target:     reviewable.TargetRef{ID: row.TargetID, Type: row.TargetType},
		CategoryID: row.CategoryID,
		TopicID:    row.TopicID,
		CreatedBy:  row.CreatedBy,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		Payload:    row.Payload,
	}
}

func toScoreRow(sc reviewable.Score) ScoreRow {
	return ScoreRow{
		ReviewableID:    sc.ReviewableID,
		ScorerID:        sc.ScorerID,
		ScoreType:       sc.ScoreType,
		Value:           sc.Value,
		TypeBonus:       sc.TypeBonus,
		TrustLevelBonus: sc.TrustLevelBonus,
		TakeActionBonus: sc.TakeActionBonus,
		AccuracyBonus:   sc.AccuracyBonus,
		Reason:          sc.Reason,
		CreatedAt:       sc.CreatedAt,
		ReviewedAt:      sc.ReviewedAt,
		ReviewedBy:      sc.ReviewedBy,
	}
}

func fromScoreRow(row ScoreRow) reviewable.Score {
	return reviewable.Score{
		ID:              row.ID,
		ReviewableID:    row.ReviewableID,
		ScorerID:        row.ScorerID,
		ScoreType:       row.ScoreType,
		Value:           row.Value,
		TypeBonus:       row.TypeBonus,
		TrustLevelBonus: row.TrustLevelBonus,
		TakeActionBonus: row.TakeActionBonus,
		AccuracyBonus:   row.AccuracyBonus,
		Reason:          row.Reason,
		CreatedAt:       row.CreatedAt,
		ReviewedAt:      row.ReviewedAt,
		ReviewedBy:      row.ReviewedBy,
	}
}

func fromHistoryRow(row HistoryRow) reviewable.HistoryEntry {
	return reviewable.HistoryEntry{
		ID:           row.ID,
		ReviewableID: row.ReviewableID,
		OldStatus:    reviewable.Status(row.OldStatus),
		NewStatus:    reviewable.Status(row.NewStatus),
		Actor:        row.Actor,
		Action:       row.Action,
		Reason:       row.Reason,
		Version:      row.Version,
		CreatedAt:    row.CreatedAt,
	}
}

func (s *GormStore) Create(ctx context.Context, r *reviewable.Reviewable) (*reviewable.Reviewable, error) {
	var id int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&ReviewableRow{}).Where("type = ? AND target_type = ? AND target_id = ?", r.Type, r.Target.Type, r.Target.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return duplicateTarget(r.Type, r.Target)
		}
		row := toRow(r)
		row.ID = 0
		row.Version = 0
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return duplicateTarget(r.Type, r.Target)
			}
			return err
		}
		id = row.ID
		if len(r.Scores) == 0 {
			return nil
		}
		scores := make([]ScoreRow, len(r.Scores))
		for i, sc := range r.Scores {
			scores[i] = toScoreRow(sc)
			scores[i].ReviewableID = id
		}
		return tx.Create(&scores).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, id)
}

func (s *GormStore) load(tx *gorm.DB, id int64) (*reviewable.Reviewable, error) {
	var row ReviewableRow
	if err := tx.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, err
	}
	r := fromRow(&row)

	var scores []ScoreRow
	if err := tx.Where("reviewable_id = ?", id).Order("id asc").Find(&scores).Error; err != nil {
		return nil, err
	}
	for _, sc := range scores {
		r.Scores = append(r.Scores, fromScoreRow(sc))
	}

	var hist []HistoryRow
	if err := tx.Where("reviewable_id = ?", id).Order("id asc").Find(&hist).Error; err != nil {
		return nil, err
	}
	for _, h := range hist {
		r.History = append(r.History, fromHistoryRow(h))
	}
	return r, nil
}

func (s *GormStore) Load(ctx context.Context, id int64) (*reviewable.Reviewable, error) {
	return s.load(s.db.WithContext(ctx), id)
}

func (s *GormStore) FindByTarget(ctx context.Context, typ string, target reviewable.TargetRef) (*reviewable.Reviewable, error) {
	var row ReviewableRow
	err := s.db.WithContext(ctx).
		Where("type = ? AND target_type = ? AND target_id = ?", typ, target.Type, target.ID).
		Order("id desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no %s reviewable for %s", reviewable.ErrNotFound, typ, target)
		}
		return nil, err
	}
	return s.Load(ctx, row.ID)
}

func (s *GormStore) CompareAndSwap(ctx context.Context, id int64, expected int64, fn reviewable.MutateFunc) (*reviewable.Reviewable, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return &reviewable.VersionConflictError{ID: id, Expected: expected, Actual: cur.Version}
		}
		m, err := fn(cur)
		if err != nil {
			return err
		}

		row := toRow(cur)
		row.ID = id
		row.Version = expected + 1
		res := tx.Model(&row).
			Where("version = ?", expected).
			Select("status", "score", "priority", "version", "category_id", "topic_id", "payload", "updated_at").
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// lost a race with another writer between load and update
			return lostRace(tx, id, expected)
		}
		if m == nil {
			return nil
		}

		if m.MarkReviewed != nil {
			err := tx.Model(&ScoreRow{}).
				Where("reviewable_id = ? AND reviewed_at IS NULL", id).
				Updates(map[string]any{"reviewed_at": m.MarkReviewed.At, "reviewed_by": m.MarkReviewed.By}).Error
			if err != nil {
				return err
			}
		}
		// new scores are inserted after marking, so they stay unreviewed
		if len(m.AddScores) > 0 {
			scores := make([]ScoreRow, len(m.AddScores))
			for i, sc := range m.AddScores {
				scores[i] = toScoreRow(sc)
				scores[i].ReviewableID = id
			}
			if err := tx.Create(&scores).Error; err != nil {
				return err
			}
		}
		if m.History != nil {
			h := HistoryRow{
				ReviewableID: id,
				OldStatus:    string(m.History.OldStatus),
				NewStatus:    string(m.History.NewStatus),
				Actor:        m.History.Actor,
				Action:       m.History.Action,
				Reason:       m.History.Reason,
				Version:      expected + 1,
				CreatedAt:    m.History.CreatedAt,
			}
			if err := tx.Create(&h).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, id)
}

// lostRace builds the conflict for a conditional update that matched no row.
func lostRace(tx *gorm.DB, id int64, expected int64) error {
	var actual int64
	if err := tx.Model(&ReviewableRow{}).Where("id = ?", id).Select("version").Scan(&actual).Error; err != nil {
		return fmt.Errorf("reading version of reviewable %d: %w", id, err)
	}
	return &reviewable.VersionConflictError{ID: id, Expected: expected, Actual: actual}
}

func (s *GormStore) List(ctx context.Context, filter reviewable.ListFilter) ([]*reviewable.Reviewable, error) {
	q := s.db.WithContext(ctx).Model(&ReviewableRow{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.CategoryID != nil {
		q = q.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.MinScore > 0 {
		q = q.Where("score >= ?", filter.MinScore)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", string(filter.Priority))
	}
	q = q.Order("score desc").Order("created_at asc").Order("id asc")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []ReviewableRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*reviewable.Reviewable, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out, nil
}

func (s *GormStore) exists(ctx context.Context, id int64) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ReviewableRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *GormStore) History(ctx context.Context, id int64) ([]reviewable.HistoryEntry, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	var rows []HistoryRow
	if err := s.db.WithContext(ctx).Where("reviewable_id = ?", id).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]reviewable.HistoryEntry, len(rows))
	for i, row := range rows {
		out[i] = fromHistoryRow(row)
	}
	return out, nil
}

func (s *GormStore) Scores(ctx context.Context, id int64) ([]reviewable.Score, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	var rows []ScoreRow
	if err := s.db.WithContext(ctx).Where("reviewable_id = ?", id).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]reviewable.Score, len(rows))
	for i, row := range rows {
		out[i] = fromScoreRow(row)
	}
	return out, nil
}

func (s *GormStore) CountPending(ctx context.Context) (map[reviewable.Priority]int, error) {
	var rows []struct {
		Priority string
		N        int
	}
	err := s.db.WithContext(ctx).Model(&ReviewableRow{}).
		Select("priority, count(*) as n").
		Where("status = ?", string(reviewable.StatusPending)).
		Group("priority").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := emptyCounts()
	for _, row := range rows {
		out[reviewable.Priority(row.Priority)] = row.N
	}
	return out, nil
}

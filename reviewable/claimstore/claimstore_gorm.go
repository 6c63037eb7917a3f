package claimstore

import (
	"context"
	"errors"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ClaimRow struct {
	ReviewableID int64     `gorm:"primaryKey;autoIncrement:false"`
	Holder       string    `gorm:"not null"`
	AcquiredAt   time.Time `gorm:"not null"`
}

func (ClaimRow) TableName() string { return "reviewable_claims" }

func (r ClaimRow) claim() reviewable.Claim {
	return reviewable.Claim{ReviewableID: r.ReviewableID, Holder: r.Holder, AcquiredAt: r.AcquiredAt}
}

// GormClaimStore keeps one row per live claim. The primary key makes
// acquisition an atomic insert-if-absent.
type GormClaimStore struct {
	db *gorm.DB
}

var _ reviewable.ClaimStore = (*GormClaimStore)(nil)

func NewGormClaimStore(db *gorm.DB) *GormClaimStore {
	return &GormClaimStore{db: db}
}

func (s *GormClaimStore) Migrate() error {
	return s.db.AutoMigrate(&ClaimRow{})
}

func (s *GormClaimStore) Acquire(ctx context.Context, id int64, holder string, now time.Time) (reviewable.Claim, error) {
	row := ClaimRow{ReviewableID: id, Holder: holder, AcquiredAt: now}
	// the existing claim can be released between insert and read; retry a few times
	for range 3 {
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return reviewable.Claim{}, res.Error
		}
		if res.RowsAffected == 1 {
			return row.claim(), nil
		}
		cur, err := s.Holder(ctx, id)
		if err != nil {
			return reviewable.Claim{}, err
		}
		if cur == nil {
			continue
		}
		if cur.Holder != holder {
			return reviewable.Claim{}, &reviewable.ClaimConflictError{ID: id, Holder: cur.Holder}
		}
		return *cur, nil
	}
	return reviewable.Claim{}, errChurn
}

func (s *GormClaimStore) Release(ctx context.Context, id int64, holder string) error {
	res := s.db.WithContext(ctx).Where("reviewable_id = ? AND holder = ?", id, holder).Delete(&ClaimRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notHolder(id, holder)
	}
	return nil
}

func (s *GormClaimStore) Clear(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Where("reviewable_id = ?", id).Delete(&ClaimRow{}).Error
}

func (s *GormClaimStore) Holder(ctx context.Context, id int64) (*reviewable.Claim, error) {
	var row ClaimRow
	err := s.db.WithContext(ctx).Where("reviewable_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	c := row.claim()
	return &c, nil
}

func (s *GormClaimStore) Holders(ctx context.Context, ids []int64) (map[int64]reviewable.Claim, error) {
	out := make(map[int64]reviewable.Claim)
	if len(ids) == 0 {
		return out, nil
	}
	var rows []ClaimRow
	if err := s.db.WithContext(ctx).Where("reviewable_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ReviewableID] = row.claim()
	}
	return out, nil
}

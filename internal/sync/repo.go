package sync

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ocontreras/clicksync-backend/pkg/errors"
)

const upsertBatchSize = 500

// clickRecordRow is the relational shape of a ClickRecord. The composite
// primary key (gclid, account_id) is what makes redelivery a no-op.
type clickRecordRow struct {
	GCLID         string    `gorm:"column:gclid;primaryKey"`
	AccountID     string    `gorm:"column:account_id;primaryKey"`
	CampaignID    int64     `gorm:"column:campaign_id"`
	CreativeID    int64     `gorm:"column:creative_id"`
	AdNetworkType string    `gorm:"column:ad_network_type"`
	ClickedAt     string    `gorm:"column:clicked_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (clickRecordRow) TableName() string {
	return "click_records"
}

// Repository upserts click records into Postgres keyed on (gclid, account_id).
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert writes records in batches, replacing the mutable columns on
// conflict. Delivering the same batch twice leaves the table unchanged apart
// from updated_at.
func (r *Repository) Upsert(ctx context.Context, records []ClickRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]clickRecordRow, 0, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		rows = append(rows, clickRecordRow{
			GCLID:         rec.GCLID,
			AccountID:     rec.AccountID,
			CampaignID:    rec.CampaignID,
			CreativeID:    rec.CreativeID,
			AdNetworkType: rec.AdNetworkType,
			ClickedAt:     rec.Timestamp,
			UpdatedAt:     now,
		})
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "gclid"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"campaign_id", "creative_id", "ad_network_type", "clicked_at", "updated_at",
		}),
	}).CreateInBatches(rows, upsertBatchSize).Error
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "upsert click records")
	}
	return nil
}

// Count returns the number of stored click records.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&clickRecordRow{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(errors.CodeDependency, err, "count click records")
	}
	return count, nil
}

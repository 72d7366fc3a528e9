package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ocontreras/clicksync-backend/pkg/config"
	"github.com/ocontreras/clicksync-backend/pkg/errors"
	"github.com/ocontreras/clicksync-backend/pkg/storage/gcs"
)

// gclidTracking is the single-row watermark table. The row holds the end of
// the last successfully delivered window.
type gclidTracking struct {
	LastTimestamp *time.Time `gorm:"column:last_timestamp"`
}

func (gclidTracking) TableName() string {
	return "gclid_tracking"
}

// RelationalStore keeps the watermark in Postgres. Reads take the most recent
// non-null timestamp so a stray duplicate row can only ever widen the window,
// never lose data.
type RelationalStore struct {
	db       *gorm.DB
	lookback time.Duration
	now      func() time.Time
}

func NewRelationalStore(db *gorm.DB, lookback time.Duration) *RelationalStore {
	return &RelationalStore{db: db, lookback: lookback, now: time.Now}
}

func (s *RelationalStore) Get(ctx context.Context) (time.Time, error) {
	var row gclidTracking
	err := s.db.WithContext(ctx).
		Where("last_timestamp IS NOT NULL").
		Order("last_timestamp DESC").
		Limit(1).
		Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return s.now().Add(-s.lookback).UTC(), nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(errors.CodeDependency, err, "read watermark")
	}
	if row.LastTimestamp == nil {
		return s.now().Add(-s.lookback).UTC(), nil
	}
	return row.LastTimestamp.UTC(), nil
}

func (s *RelationalStore) Set(ctx context.Context, ts time.Time) error {
	ts = ts.UTC()
	result := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&gclidTracking{}).
		Update("last_timestamp", ts)
	if result.Error != nil {
		return errors.Wrap(errors.CodeDependency, result.Error, "update watermark")
	}
	if result.RowsAffected == 0 {
		if err := s.db.WithContext(ctx).Create(&gclidTracking{LastTimestamp: &ts}).Error; err != nil {
			return errors.Wrap(errors.CodeDependency, err, "insert watermark")
		}
	}
	return nil
}

type objectStore interface {
	ReadObject(ctx context.Context, key string) ([]byte, error)
	WriteObject(ctx context.Context, key string, body []byte, contentType string) error
}

var _ objectStore = (*gcs.Bucket)(nil)

type pointerDoc struct {
	LastRunTS string `json:"last_run_ts"`
}

// PointerStore keeps the watermark as a small JSON object in the archive
// bucket, for deployments without a relational database.
type PointerStore struct {
	bucket   objectStore
	key      string
	lookback time.Duration
	now      func() time.Time
}

func NewPointerStore(bucket objectStore, key string, lookback time.Duration) *PointerStore {
	return &PointerStore{bucket: bucket, key: key, lookback: lookback, now: time.Now}
}

func (s *PointerStore) Get(ctx context.Context) (time.Time, error) {
	payload, err := s.bucket.ReadObject(ctx, s.key)
	if stderrors.Is(err, gcs.ErrObjectNotFound) {
		return s.now().Add(-s.lookback).UTC(), nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(errors.CodeDependency, err, "read watermark pointer")
	}

	var doc pointerDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return time.Time{}, errors.Wrap(errors.CodeInternal, err, "decode watermark pointer")
	}
	ts, err := time.Parse(time.RFC3339, doc.LastRunTS)
	if err != nil {
		return time.Time{}, errors.Wrap(errors.CodeInternal, err, "parse watermark pointer timestamp")
	}
	return ts.UTC(), nil
}

func (s *PointerStore) Set(ctx context.Context, ts time.Time) error {
	payload, err := json.Marshal(pointerDoc{LastRunTS: ts.UTC().Format(time.RFC3339)})
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encode watermark pointer")
	}
	if err := s.bucket.WriteObject(ctx, s.key, payload, "application/json"); err != nil {
		return errors.Wrap(errors.CodeDependency, err, "write watermark pointer")
	}
	return nil
}

// FixedLookbackStore has no persistence: every run covers the trailing
// lookback interval and Set is a no-op. Useful for smoke environments.
type FixedLookbackStore struct {
	lookback time.Duration
	now      func() time.Time
}

func NewFixedLookbackStore(lookback time.Duration) *FixedLookbackStore {
	return &FixedLookbackStore{lookback: lookback, now: time.Now}
}

func (s *FixedLookbackStore) Get(ctx context.Context) (time.Time, error) {
	return s.now().Add(-s.lookback).UTC(), nil
}

func (s *FixedLookbackStore) Set(ctx context.Context, ts time.Time) error {
	return nil
}

// NewStore selects the watermark backend from config. db may be nil unless
// the postgres backend is chosen; bucket may be nil unless gcs is.
func NewStore(cfg config.SyncConfig, db *gorm.DB, bucket *gcs.Bucket) (Store, error) {
	switch cfg.WatermarkBackend {
	case config.WatermarkBackendPostgres:
		if db == nil {
			return nil, errors.New(errors.CodeInternal, "postgres watermark backend requires a database")
		}
		return NewRelationalStore(db, cfg.Lookback()), nil
	case config.WatermarkBackendGCS:
		if bucket == nil {
			return nil, errors.New(errors.CodeInternal, "gcs watermark backend requires a bucket")
		}
		return NewPointerStore(bucket, cfg.PointerObjectKey, cfg.Lookback()), nil
	case config.WatermarkBackendNone:
		return NewFixedLookbackStore(cfg.Lookback()), nil
	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown watermark backend %q", cfg.WatermarkBackend))
	}
}

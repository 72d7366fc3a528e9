package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newRecordDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&clickRecordRow{}))
	return conn
}

func sampleRecords() []ClickRecord {
	return []ClickRecord{
		{GCLID: "gclid-1", AccountID: "111", CampaignID: 100, CreativeID: 200, AdNetworkType: "SEARCH", Timestamp: "2026-01-05 10:15:00"},
		{GCLID: "gclid-2", AccountID: "111", CampaignID: 100, CreativeID: 201, AdNetworkType: "SEARCH", Timestamp: "2026-01-05 10:16:00"},
		{GCLID: "gclid-1", AccountID: "222", CampaignID: 300, CreativeID: 400, AdNetworkType: "CONTENT", Timestamp: "2026-01-05 10:17:00"},
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	repo := NewRepository(newRecordDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, sampleRecords()))
	require.NoError(t, repo.Upsert(ctx, sampleRecords()))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, count, "redelivery must not create duplicate rows")
}

func TestUpsertSameGclidAcrossAccounts(t *testing.T) {
	repo := NewRepository(newRecordDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, sampleRecords()))

	// gclid-1 exists under two accounts; both rows must survive.
	var rows []clickRecordRow
	require.NoError(t, repo.db.Where("gclid = ?", "gclid-1").Find(&rows).Error)
	require.Len(t, rows, 2)
}

func TestUpsertReplacesMutableColumns(t *testing.T) {
	repo := NewRepository(newRecordDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, sampleRecords()))

	updated := []ClickRecord{
		{GCLID: "gclid-1", AccountID: "111", CampaignID: 999, CreativeID: 200, AdNetworkType: "SEARCH", Timestamp: "2026-01-05 10:15:00"},
	}
	require.NoError(t, repo.Upsert(ctx, updated))

	var row clickRecordRow
	require.NoError(t, repo.db.Where("gclid = ? AND account_id = ?", "gclid-1", "111").Take(&row).Error)
	require.EqualValues(t, 999, row.CampaignID)
}

func TestUpsertEmptyBatchIsNoOp(t *testing.T) {
	repo := NewRepository(newRecordDB(t))
	require.NoError(t, repo.Upsert(context.Background(), nil))
}

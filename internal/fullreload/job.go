package fullreload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"

	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
	bq "github.com/ocontreras/clicksync-backend/pkg/bigquery"
	apierrors "github.com/ocontreras/clicksync-backend/pkg/errors"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

const archiveObjectName = "initial_load.json"

// SourceReader streams every click record from the reporting warehouse, the
// system of record the incremental pipeline feeds.
type SourceReader interface {
	ReadAll(ctx context.Context) ([]syncengine.ClickRecord, error)
}

// reportRow mirrors the warehouse schema of the click reports table.
type reportRow struct {
	GCLID         string `bigquery:"gclid"`
	CampaignID    int64  `bigquery:"campaign_id"`
	CreativeID    int64  `bigquery:"creative_id"`
	AdNetworkType string `bigquery:"ad_network_type"`
	Timestamp     string `bigquery:"timestamp"`
	AccountID     string `bigquery:"account_id"`
}

// BigQueryReader reads the full click reports table.
type BigQueryReader struct {
	client *bq.Client
}

func NewBigQueryReader(client *bq.Client) *BigQueryReader {
	return &BigQueryReader{client: client}
}

func (r *BigQueryReader) ReadAll(ctx context.Context) ([]syncengine.ClickRecord, error) {
	sql := fmt.Sprintf("SELECT gclid, campaign_id, creative_id, ad_network_type, timestamp, account_id FROM `%s`",
		r.client.ClickReportsTable())

	it, err := r.client.Query(ctx, sql, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeDependency, err, "query click reports")
	}

	var records []syncengine.ClickRecord
	for {
		var row reportRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, apierrors.Wrap(apierrors.CodeDependency, err, "iterate click reports")
		}
		records = append(records, syncengine.ClickRecord{
			GCLID:         row.GCLID,
			CampaignID:    row.CampaignID,
			CreativeID:    row.CreativeID,
			AdNetworkType: row.AdNetworkType,
			Timestamp:     row.Timestamp,
			AccountID:     row.AccountID,
		})
	}
	return records, nil
}

// objectWriter is the slice of the bucket API the job needs.
type objectWriter interface {
	WriteObject(ctx context.Context, key string, body []byte, contentType string) error
}

// Job rebuilds downstream state from the warehouse: the full table is
// archived as a single object and every row is re-upserted into the record
// sink. It backstops the incremental pipeline when a window is lost.
type Job struct {
	source SourceReader
	bucket objectWriter
	sink   syncengine.RecordSink
	prefix string
	logg   *logger.Logger
}

func NewJob(source SourceReader, bucket objectWriter, sink syncengine.RecordSink, prefix string, logg *logger.Logger) *Job {
	return &Job{source: source, bucket: bucket, sink: sink, prefix: prefix, logg: logg}
}

func (j *Job) Name() string {
	return "full_reload"
}

// Run reads the whole source table and delivers it. The archive key is fixed,
// so repeated reloads overwrite the same object rather than piling up
// snapshots.
func (j *Job) Run(ctx context.Context) error {
	records, err := j.source.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("reading source table: %w", err)
	}
	j.logg.Info(ctx, fmt.Sprintf("full reload fetched %d records", len(records)))

	if len(records) == 0 {
		return nil
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, err, "encode reload batch")
	}
	if err := j.bucket.WriteObject(ctx, j.prefix+archiveObjectName, payload, "application/json"); err != nil {
		return apierrors.Wrap(apierrors.CodeDependency, err, "write reload archive")
	}
	if err := j.sink.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upserting reload batch: %w", err)
	}
	return nil
}

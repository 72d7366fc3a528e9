package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ocontreras/clicksync-backend/pkg/errors"
)

const archiveTimeLayout = "2006-01-02T15-04-05Z"

// RecordSink receives fetched click records. Delivery is at-least-once, so
// implementations must be idempotent on (gclid, account_id).
type RecordSink interface {
	Upsert(ctx context.Context, records []ClickRecord) error
}

// Deliverer writes a completed batch to both destinations: the immutable
// archive object and the queryable sink. Archive first; a redelivered batch
// overwrites the same object key with identical content.
type Deliverer struct {
	bucket objectStore
	sink   RecordSink
	prefix string
}

func NewDeliverer(bucket objectStore, sink RecordSink, prefix string) *Deliverer {
	return &Deliverer{bucket: bucket, sink: sink, prefix: prefix}
}

// ArchiveKey names the archive object for a window ending at end.
func (d *Deliverer) ArchiveKey(end time.Time) string {
	return d.prefix + "clicks_" + end.UTC().Format(archiveTimeLayout) + ".json"
}

// Deliver archives then upserts the batch. Empty batches are skipped
// entirely; no archive object is written and the sink is never touched.
func (d *Deliverer) Deliver(ctx context.Context, records []ClickRecord, w Window) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "encode archive batch")
	}

	key := d.ArchiveKey(w.End)
	if err := d.bucket.WriteObject(ctx, key, payload, "application/json"); err != nil {
		return "", errors.Wrap(errors.CodeDependency, err, "write archive object")
	}
	if err := d.sink.Upsert(ctx, records); err != nil {
		return "", err
	}
	return key, nil
}

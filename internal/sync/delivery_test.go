package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeSink struct {
	batches [][]ClickRecord
	err     error
}

func (s *fakeSink) Upsert(ctx context.Context, records []ClickRecord) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

func testWindow() Window {
	return Window{
		Start: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC),
	}
}

func TestDeliverArchivesAndUpserts(t *testing.T) {
	bucket := newFakeBucket()
	sink := &fakeSink{}
	d := NewDeliverer(bucket, sink, "click_performance/")

	records := sampleRecords()
	key, err := d.Deliver(context.Background(), records, testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "click_performance/clicks_2026-01-05T10-30-00Z.json" {
		t.Errorf("unexpected archive key %q", key)
	}

	var archived []ClickRecord
	if err := json.Unmarshal(bucket.objects[key], &archived); err != nil {
		t.Fatalf("archive object is not valid JSON: %v", err)
	}
	if len(archived) != len(records) {
		t.Errorf("archived %d records, want %d", len(archived), len(records))
	}
	if archived[0].GCLID != "gclid-1" || archived[0].AccountID != "111" {
		t.Errorf("unexpected archived record: %+v", archived[0])
	}

	if len(sink.batches) != 1 || len(sink.batches[0]) != len(records) {
		t.Errorf("sink did not receive the batch: %+v", sink.batches)
	}
}

func TestDeliverSkipsEmptyBatch(t *testing.T) {
	bucket := newFakeBucket()
	sink := &fakeSink{}
	d := NewDeliverer(bucket, sink, "click_performance/")

	key, err := d.Deliver(context.Background(), nil, testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "" {
		t.Errorf("empty batch must not produce an archive key, got %q", key)
	}
	if len(bucket.writes) != 0 {
		t.Errorf("empty batch must not write archive objects, got %v", bucket.writes)
	}
	if len(sink.batches) != 0 {
		t.Errorf("empty batch must not reach the sink, got %+v", sink.batches)
	}
}

func TestDeliverStopsWhenArchiveFails(t *testing.T) {
	bucket := newFakeBucket()
	bucket.writeErr = errors.New("bucket unavailable")
	sink := &fakeSink{}
	d := NewDeliverer(bucket, sink, "click_performance/")

	if _, err := d.Deliver(context.Background(), sampleRecords(), testWindow()); err == nil {
		t.Fatal("expected archive failure to surface")
	}
	if len(sink.batches) != 0 {
		t.Errorf("sink must not be touched when archival fails, got %+v", sink.batches)
	}
}

func TestDeliverSurfacesSinkFailure(t *testing.T) {
	bucket := newFakeBucket()
	sink := &fakeSink{err: errors.New("deadlock detected")}
	d := NewDeliverer(bucket, sink, "click_performance/")

	if _, err := d.Deliver(context.Background(), sampleRecords(), testWindow()); err == nil {
		t.Fatal("expected sink failure to surface")
	}
}

func TestDeliverIsRepeatableForSameWindow(t *testing.T) {
	bucket := newFakeBucket()
	sink := &fakeSink{}
	d := NewDeliverer(bucket, sink, "click_performance/")

	records := sampleRecords()
	first, err := d.Deliver(context.Background(), records, testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Deliver(context.Background(), records, testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Errorf("redelivery must target the same key: %q vs %q", first, second)
	}
	if len(bucket.writes) != 2 || bucket.writes[0] != bucket.writes[1] {
		t.Errorf("redelivery must overwrite in place, got %v", bucket.writes)
	}
}

package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	watermark time.Time
	getErr    error
	setErr    error
	sets      []time.Time
}

func (s *fakeStore) Get(ctx context.Context) (time.Time, error) {
	if s.getErr != nil {
		return time.Time{}, s.getErr
	}
	return s.watermark, nil
}

func (s *fakeStore) Set(ctx context.Context, ts time.Time) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.sets = append(s.sets, ts)
	s.watermark = ts
	return nil
}

type fakeSource struct {
	clients      []AdsClient
	clientErr    error
	clientCalls  int
	rebuildCalls int
}

func (s *fakeSource) next() AdsClient {
	client := s.clients[0]
	if len(s.clients) > 1 {
		s.clients = s.clients[1:]
	}
	return client
}

func (s *fakeSource) Client(ctx context.Context) (AdsClient, error) {
	s.clientCalls++
	if s.clientErr != nil {
		return nil, s.clientErr
	}
	return s.next(), nil
}

func (s *fakeSource) Rebuild(ctx context.Context) (AdsClient, error) {
	s.rebuildCalls++
	return s.next(), nil
}

type fakeFallback struct {
	runs int
	err  error
}

func (f *fakeFallback) Name() string { return "full_reload" }

func (f *fakeFallback) Run(ctx context.Context) error {
	f.runs++
	return f.err
}

type fakeEvents struct {
	published []RunResult
}

func (e *fakeEvents) PublishRunCompleted(ctx context.Context, result RunResult) error {
	e.published = append(e.published, result)
	return nil
}

type orchestratorHarness struct {
	orch     *Orchestrator
	store    *fakeStore
	source   *fakeSource
	bucket   *fakeBucket
	sink     *fakeSink
	fallback *fakeFallback
	events   *fakeEvents
}

func newHarness(client AdsClient) *orchestratorHarness {
	h := &orchestratorHarness{
		store:    &fakeStore{watermark: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)},
		source:   &fakeSource{clients: []AdsClient{client}},
		bucket:   newFakeBucket(),
		sink:     &fakeSink{},
		fallback: &fakeFallback{},
		events:   &fakeEvents{},
	}
	logg := testLogger()
	h.orch = NewOrchestrator(OrchestratorOptions{
		Store:     h.store,
		Fetcher:   NewFetcher(h.source, logg),
		Deliverer: NewDeliverer(h.bucket, h.sink, "click_performance/"),
		Fallback:  h.fallback,
		Events:    h.events,
		Logger:    logg,
	})
	h.orch.now = func() time.Time { return time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC) }
	return h
}

func TestRunDeliversWindowAndAdvancesWatermark(t *testing.T) {
	client := &fakeAdsClient{
		accounts: []string{"111", "222"},
		records: map[string][]ClickRecord{
			"111": {{GCLID: "gclid-1", AccountID: "111"}},
			"222": {{GCLID: "gclid-2", AccountID: "222"}, {GCLID: "gclid-3", AccountID: "222"}},
		},
	}
	h := newHarness(client)

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", result.RecordCount)
	}
	wantStart := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	if !result.Window.Start.Equal(wantStart) {
		t.Errorf("Window.Start = %v, want stored watermark %v", result.Window.Start, wantStart)
	}
	wantEnd := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)
	if !result.Window.End.Equal(wantEnd) {
		t.Errorf("Window.End = %v, want %v", result.Window.End, wantEnd)
	}
	if len(h.store.sets) != 1 || !h.store.sets[0].Equal(wantEnd) {
		t.Errorf("watermark sets = %v, want single advance to %v", h.store.sets, wantEnd)
	}
	if result.ArchiveKey == "" || len(h.bucket.objects[result.ArchiveKey]) == 0 {
		t.Errorf("archive object missing for key %q", result.ArchiveKey)
	}
	if len(h.sink.batches) != 1 {
		t.Errorf("sink batches = %d, want 1", len(h.sink.batches))
	}
	if len(h.events.published) != 1 || h.events.published[0].RecordCount != 3 {
		t.Errorf("expected one run-completed event, got %+v", h.events.published)
	}
	if h.fallback.runs != 0 {
		t.Errorf("fallback must not run on success")
	}
}

func TestRunEmptyWindowAdvancesWatermarkWithoutWrites(t *testing.T) {
	client := &fakeAdsClient{accounts: []string{"111"}}
	h := newHarness(client)

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RecordCount != 0 || result.ArchiveKey != "" {
		t.Errorf("unexpected result for empty window: %+v", result)
	}
	if len(h.bucket.writes) != 0 {
		t.Errorf("no archive writes expected, got %v", h.bucket.writes)
	}
	if len(h.sink.batches) != 0 {
		t.Errorf("no sink writes expected, got %+v", h.sink.batches)
	}
	if len(h.store.sets) != 1 {
		t.Errorf("empty window must still advance the watermark, sets = %v", h.store.sets)
	}
}

func TestRunSurfacesFailedAccounts(t *testing.T) {
	client := &fakeAdsClient{
		accounts: []string{"111", "222"},
		records: map[string][]ClickRecord{
			"111": {{GCLID: "gclid-1", AccountID: "111"}},
		},
		searchErrs: map[string]error{"222": errors.New("quota exceeded")},
	}
	h := newHarness(client)

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("partial failure must not fail the run: %v", err)
	}
	if len(result.FailedAccounts) != 1 || result.FailedAccounts[0] != "222" {
		t.Errorf("FailedAccounts = %v, want [222]", result.FailedAccounts)
	}
	if result.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1", result.RecordCount)
	}
	if len(h.store.sets) != 1 {
		t.Errorf("watermark must still advance on partial failure")
	}
}

func TestRunWatermarkErrorIsFatalWithoutFallback(t *testing.T) {
	h := newHarness(&fakeAdsClient{})
	h.store.getErr = errors.New("database unavailable")

	if _, err := h.orch.Run(context.Background()); err == nil {
		t.Fatal("expected watermark failure to fail the run")
	}
	if h.fallback.runs != 0 {
		t.Errorf("watermark failure must not trigger fallback")
	}
	if h.source.clientCalls != 0 {
		t.Errorf("no client should be built when the watermark is unreadable")
	}
}

func TestRunDeliveryFailureTriggersFallback(t *testing.T) {
	client := &fakeAdsClient{
		accounts: []string{"111"},
		records:  map[string][]ClickRecord{"111": {{GCLID: "gclid-1", AccountID: "111"}}},
	}
	h := newHarness(client)
	h.bucket.writeErr = errors.New("bucket unavailable")

	if _, err := h.orch.Run(context.Background()); err == nil {
		t.Fatal("expected delivery failure to fail the run")
	}
	if h.fallback.runs != 1 {
		t.Errorf("fallback runs = %d, want 1", h.fallback.runs)
	}
	if len(h.store.sets) != 0 {
		t.Errorf("watermark must not advance after failed delivery, sets = %v", h.store.sets)
	}
	if len(h.events.published) != 0 {
		t.Errorf("no event expected for a failed run")
	}
}

func TestRunListingFailureTriggersFallback(t *testing.T) {
	h := newHarness(&fakeAdsClient{listErr: errors.New("service unavailable")})

	if _, err := h.orch.Run(context.Background()); err == nil {
		t.Fatal("expected listing failure to fail the run")
	}
	if h.fallback.runs != 1 {
		t.Errorf("fallback runs = %d, want 1", h.fallback.runs)
	}
}

func TestRunRebuildsClientOnceOnAuthFailure(t *testing.T) {
	stale := &fakeAdsClient{
		accounts:   []string{"111"},
		searchErrs: map[string]error{"111": authErr{}},
	}
	fresh := &fakeAdsClient{
		accounts: []string{"111"},
		records:  map[string][]ClickRecord{"111": {{GCLID: "gclid-1", AccountID: "111"}}},
	}
	h := newHarness(stale)
	h.source.clients = []AdsClient{stale, fresh}

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run should recover after credential rebuild: %v", err)
	}
	if h.source.rebuildCalls != 1 {
		t.Errorf("rebuild calls = %d, want 1", h.source.rebuildCalls)
	}
	if result.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1", result.RecordCount)
	}
}

func TestRunFailsAfterSecondAuthFailure(t *testing.T) {
	stale := &fakeAdsClient{
		accounts:   []string{"111"},
		searchErrs: map[string]error{"111": authErr{}},
	}
	h := newHarness(stale)
	h.source.clients = []AdsClient{stale, stale}

	if _, err := h.orch.Run(context.Background()); err == nil {
		t.Fatal("expected run to fail when rebuilt credentials are also rejected")
	}
	if h.source.rebuildCalls != 1 {
		t.Errorf("exactly one rebuild attempt expected, got %d", h.source.rebuildCalls)
	}
}

func TestRunWatermarkAdvanceFailureIsFatal(t *testing.T) {
	client := &fakeAdsClient{
		accounts: []string{"111"},
		records:  map[string][]ClickRecord{"111": {{GCLID: "gclid-1", AccountID: "111"}}},
	}
	h := newHarness(client)
	h.store.setErr = errors.New("database unavailable")

	if _, err := h.orch.Run(context.Background()); err == nil {
		t.Fatal("expected watermark advance failure to fail the run")
	}
	if h.fallback.runs != 0 {
		t.Errorf("watermark advance failure must not trigger fallback")
	}
}

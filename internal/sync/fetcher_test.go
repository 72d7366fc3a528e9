package sync

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

type authErr struct{}

func (authErr) Error() string     { return "401 unauthorized" }
func (authErr) AuthFailure() bool { return true }

type fakeAdsClient struct {
	accounts    []string
	listErr     error
	records     map[string][]ClickRecord
	searchErrs  map[string]error
	searchCalls []string
}

func (c *fakeAdsClient) ListAccessibleCustomers(ctx context.Context) ([]string, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.accounts, nil
}

func (c *fakeAdsClient) SearchClickViews(ctx context.Context, accountID string, w Window) ([]ClickRecord, error) {
	c.searchCalls = append(c.searchCalls, accountID)
	if err, ok := c.searchErrs[accountID]; ok {
		return nil, err
	}
	return c.records[accountID], nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestFetcher(clients ...AdsClient) (*Fetcher, *fakeSource) {
	source := &fakeSource{clients: clients}
	return NewFetcher(source, testLogger()), source
}

func TestFetchCollectsAllAccounts(t *testing.T) {
	client := &fakeAdsClient{
		accounts: []string{"111", "222"},
		records: map[string][]ClickRecord{
			"111": {{GCLID: "gclid-1", AccountID: "111"}},
			"222": {{GCLID: "gclid-2", AccountID: "222"}, {GCLID: "gclid-3", AccountID: "222"}},
		},
	}
	fetcher, _ := newTestFetcher(client)

	records, failed, err := fetcher.Fetch(context.Background(), Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d", len(records))
	}
	if len(failed) != 0 {
		t.Errorf("expected no failed accounts, got %v", failed)
	}
}

func TestFetchSkipsFailingAccount(t *testing.T) {
	client := &fakeAdsClient{
		accounts: []string{"111", "222", "333"},
		records: map[string][]ClickRecord{
			"111": {{GCLID: "gclid-1", AccountID: "111"}},
			"333": {{GCLID: "gclid-3", AccountID: "333"}},
		},
		searchErrs: map[string]error{"222": errors.New("quota exceeded")},
	}
	fetcher, _ := newTestFetcher(client)

	records, failed, err := fetcher.Fetch(context.Background(), Window{})
	if err != nil {
		t.Fatalf("one bad account must not abort the run: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected records from the 2 healthy accounts, got %d", len(records))
	}
	if len(failed) != 1 || failed[0] != "222" {
		t.Errorf("expected failed account 222, got %v", failed)
	}
	if len(client.searchCalls) != 3 {
		t.Errorf("all accounts should still be attempted, got %v", client.searchCalls)
	}
}

func TestFetchAbortsWhenRetriedCallStillRejected(t *testing.T) {
	client := &fakeAdsClient{
		accounts:   []string{"111", "222"},
		searchErrs: map[string]error{"111": authErr{}},
	}
	fetcher, source := newTestFetcher(client)

	_, _, err := fetcher.Fetch(context.Background(), Window{})
	if err == nil {
		t.Fatal("expected auth error to abort the fetch phase")
	}
	if !isAuthError(err) {
		t.Errorf("auth classification must survive wrapping: %v", err)
	}
	if source.rebuildCalls != 1 {
		t.Errorf("rebuild calls = %d, want 1", source.rebuildCalls)
	}
	// The failing account is retried once; later accounts are never attempted.
	if len(client.searchCalls) != 2 || client.searchCalls[0] != "111" || client.searchCalls[1] != "111" {
		t.Errorf("expected a single retried call against 111, got %v", client.searchCalls)
	}
}

func TestFetchRetriesListingAfterCredentialRotation(t *testing.T) {
	stale := &fakeAdsClient{listErr: authErr{}}
	fresh := &fakeAdsClient{
		accounts: []string{"111"},
		records:  map[string][]ClickRecord{"111": {{GCLID: "gclid-1", AccountID: "111"}}},
	}
	fetcher, source := newTestFetcher(stale, fresh)

	records, failed, err := fetcher.Fetch(context.Background(), Window{})
	if err != nil {
		t.Fatalf("listing should recover after credential rebuild: %v", err)
	}
	if source.rebuildCalls != 1 {
		t.Errorf("rebuild calls = %d, want 1", source.rebuildCalls)
	}
	if len(records) != 1 || len(failed) != 0 {
		t.Errorf("expected 1 record and no failures, got %d/%v", len(records), failed)
	}
}

func TestFetchEachCallSiteCarriesItsOwnRetry(t *testing.T) {
	// Credentials rotate twice in one window: the listing call and a
	// per-account fetch each hit a stale token, and each recovers on its
	// own rebuilt client.
	staleList := &fakeAdsClient{listErr: authErr{}}
	staleFetch := &fakeAdsClient{
		accounts:   []string{"111"},
		searchErrs: map[string]error{"111": authErr{}},
	}
	fresh := &fakeAdsClient{
		accounts: []string{"111"},
		records:  map[string][]ClickRecord{"111": {{GCLID: "gclid-1", AccountID: "111"}}},
	}
	fetcher, source := newTestFetcher(staleList, staleFetch, fresh)

	records, failed, err := fetcher.Fetch(context.Background(), Window{})
	if err != nil {
		t.Fatalf("a rotation at listing must not spend the per-account retry: %v", err)
	}
	if source.rebuildCalls != 2 {
		t.Errorf("rebuild calls = %d, want 2", source.rebuildCalls)
	}
	if len(records) != 1 || len(failed) != 0 {
		t.Errorf("expected 1 record and no failures, got %d/%v", len(records), failed)
	}
}

func TestFetchFailsWhenListingFails(t *testing.T) {
	fetcher, source := newTestFetcher(&fakeAdsClient{listErr: errors.New("boom")})

	_, _, err := fetcher.Fetch(context.Background(), Window{})
	if err == nil {
		t.Fatal("expected error when account listing fails")
	}
	if source.rebuildCalls != 0 {
		t.Errorf("non-auth listing failure must not rebuild credentials, got %d", source.rebuildCalls)
	}
}

func TestFetchFailsWhenClientCannotBeBuilt(t *testing.T) {
	source := &fakeSource{clientErr: errors.New("secret unavailable")}
	fetcher := NewFetcher(source, testLogger())

	_, _, err := fetcher.Fetch(context.Background(), Window{})
	if err == nil {
		t.Fatal("expected error when client construction fails")
	}
}

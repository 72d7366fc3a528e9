package sync

import (
	"context"
	"time"
)

// ClickRecord is one click-attribution row fetched from the upstream API.
// The gclid plus account id is the idempotency key downstream; records are
// immutable once produced.
type ClickRecord struct {
	GCLID         string `json:"gclid"`
	CampaignID    int64  `json:"campaign_id"`
	CreativeID    int64  `json:"creative_id"`
	AdNetworkType string `json:"ad_network_type"`
	Timestamp     string `json:"timestamp"`
	AccountID     string `json:"account_id"`
}

// Window is the time interval a run covers. Both ends are inclusive, exactly
// as the upstream BETWEEN query treats them; boundary duplicates across
// consecutive runs are absorbed by the idempotent upsert.
type Window struct {
	Start time.Time
	End   time.Time
}

// RunResult summarizes a completed incremental run.
type RunResult struct {
	Window         Window
	RecordCount    int
	ArchiveKey     string
	FailedAccounts []string
}

// AdsClient is the upstream API surface the engine consumes.
type AdsClient interface {
	// ListAccessibleCustomers returns every account id reachable with the
	// current credentials, normalized to bare identifiers.
	ListAccessibleCustomers(ctx context.Context) ([]string, error)
	// SearchClickViews returns all click rows for one account inside the
	// window, fully buffered.
	SearchClickViews(ctx context.Context, accountID string, w Window) ([]ClickRecord, error)
}

// ClientSource builds authenticated upstream clients. Client returns a ready
// client backed by freshly exchanged credentials; Rebuild discards any cached
// state and re-acquires credentials from the provider, used for the single
// retry after an authentication failure.
type ClientSource interface {
	Client(ctx context.Context) (AdsClient, error)
	Rebuild(ctx context.Context) (AdsClient, error)
}

// Store is the watermark persistence contract. Get returns the start of the
// next window, falling back to now-lookback when no watermark exists yet; Set
// records the end of a successfully delivered window. Any error from either
// is fatal to the run.
type Store interface {
	Get(ctx context.Context) (time.Time, error)
	Set(ctx context.Context, ts time.Time) error
}

// Job is a named unit of recovery or scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

package sync

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

type authFailure interface {
	AuthFailure() bool
}

// isAuthError reports whether any error in the chain marks itself as an
// authentication failure.
func isAuthError(err error) bool {
	var af authFailure
	return stderrors.As(err, &af) && af.AuthFailure()
}

// Fetcher pulls click records for every accessible account. A failing account
// is logged and skipped so one bad account cannot starve the rest of the
// window. When the upstream rejects the access token, the fetcher rebuilds
// the client and retries that call once; each call site carries its own
// retry, so a rotation at listing does not spend the retry a later
// per-account fetch may need. An auth failure that survives its retry aborts
// the whole phase because every subsequent call would fail the same way.
type Fetcher struct {
	source ClientSource
	logg   *logger.Logger
}

func NewFetcher(source ClientSource, logg *logger.Logger) *Fetcher {
	return &Fetcher{source: source, logg: logg}
}

// Fetch lists accessible accounts and queries each one over the window. It
// returns all collected records plus the ids of accounts whose fetch failed.
func (f *Fetcher) Fetch(ctx context.Context, w Window) ([]ClickRecord, []string, error) {
	client, err := f.source.Client(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("building client: %w", err)
	}

	accounts, err := client.ListAccessibleCustomers(ctx)
	if err != nil && isAuthError(err) {
		if client, err = f.rebuild(ctx, err); err != nil {
			return nil, nil, err
		}
		accounts, err = client.ListAccessibleCustomers(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("listing accessible accounts: %w", err)
	}

	var (
		records []ClickRecord
		failed  []string
	)
	for _, accountID := range accounts {
		accountCtx := f.logg.WithAccountID(ctx, accountID)

		rows, err := client.SearchClickViews(accountCtx, accountID, w)
		if err != nil && isAuthError(err) {
			if client, err = f.rebuild(accountCtx, err); err != nil {
				return nil, nil, err
			}
			rows, err = client.SearchClickViews(accountCtx, accountID, w)
		}
		if err != nil {
			if isAuthError(err) {
				return nil, nil, fmt.Errorf("fetching account %s: %w", accountID, err)
			}
			f.logg.Warn(accountCtx, fmt.Sprintf("account fetch failed, skipping: %v", err))
			failed = append(failed, accountID)
			continue
		}
		records = append(records, rows...)
	}
	return records, failed, nil
}

func (f *Fetcher) rebuild(ctx context.Context, cause error) (AdsClient, error) {
	f.logg.Warn(ctx, fmt.Sprintf("call rejected for auth, rebuilding credentials: %v", cause))
	client, err := f.source.Rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuilding client: %w", err)
	}
	return client, nil
}

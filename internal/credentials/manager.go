package credentials

import (
	"context"
	gosync "sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ocontreras/clicksync-backend/internal/ads"
	syncengine "github.com/ocontreras/clicksync-backend/internal/sync"
	"github.com/ocontreras/clicksync-backend/pkg/config"
	"github.com/ocontreras/clicksync-backend/pkg/errors"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

// TokenExchanger turns a stored refresh token into a live access token. The
// returned token may carry a new refresh token when the provider rotates it.
type TokenExchanger interface {
	Exchange(ctx context.Context, b Bundle) (*oauth2.Token, error)
}

type oauthExchanger struct{}

func (oauthExchanger) Exchange(ctx context.Context, b Bundle) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     b.ClientID,
		ClientSecret: b.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: b.RefreshToken}).Token()
}

// Manager builds authenticated upstream clients from the stored credential
// bundle. A rotated refresh token is persisted before the client is handed
// out, so a crash mid-run can never strand the only working token in memory.
type Manager struct {
	provider  Provider
	exchanger TokenExchanger
	adsConfig config.AdsConfig
	logg      *logger.Logger

	mu     gosync.Mutex
	cached *Bundle
}

func NewManager(provider Provider, adsConfig config.AdsConfig, logg *logger.Logger) *Manager {
	return &Manager{
		provider:  provider,
		exchanger: oauthExchanger{},
		adsConfig: adsConfig,
		logg:      logg,
	}
}

// Client exchanges the bundle for an access token and returns a ready client.
// The bundle is cached across calls; Rebuild drops the cache.
func (m *Manager) Client(ctx context.Context) (syncengine.AdsClient, error) {
	bundle, err := m.bundle(ctx)
	if err != nil {
		return nil, err
	}
	return m.build(ctx, bundle)
}

// Rebuild discards the cached bundle and re-reads it from the provider. Used
// once per run after an authentication failure, in case another deployment
// rotated the refresh token underneath us.
func (m *Manager) Rebuild(ctx context.Context) (syncengine.AdsClient, error) {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	return m.Client(ctx)
}

func (m *Manager) bundle(ctx context.Context) (Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return *m.cached, nil
	}
	bundle, err := m.provider.Fetch(ctx)
	if err != nil {
		return Bundle{}, err
	}
	m.cached = &bundle
	return bundle, nil
}

func (m *Manager) build(ctx context.Context, bundle Bundle) (syncengine.AdsClient, error) {
	token, err := m.exchanger.Exchange(ctx, bundle)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnauthorized, err, "exchange refresh token")
	}

	if token.RefreshToken != "" && token.RefreshToken != bundle.RefreshToken {
		rotated := bundle
		rotated.RefreshToken = token.RefreshToken
		if err := m.provider.Store(ctx, rotated); err != nil {
			return nil, errors.Wrap(errors.CodeDependency, err, "persist rotated refresh token")
		}
		m.mu.Lock()
		m.cached = &rotated
		m.mu.Unlock()
		m.logg.Info(ctx, "refresh token rotated and persisted")
	}

	loginCustomerID := bundle.LoginCustomerID
	if loginCustomerID == "" {
		loginCustomerID = m.adsConfig.LoginCustomerID
	}
	client := ads.NewClient(m.adsConfig, bundle.DeveloperToken, loginCustomerID, token.AccessToken)
	return client, nil
}

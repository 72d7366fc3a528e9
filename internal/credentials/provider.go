package credentials

import (
	"context"
	"encoding/json"

	"github.com/ocontreras/clicksync-backend/pkg/errors"
	"github.com/ocontreras/clicksync-backend/pkg/secrets"
)

// Bundle is the credential document stored in Secret Manager. The refresh
// token is mutable: the OAuth provider may rotate it on any exchange, and the
// stored copy must always be the most recent one.
type Bundle struct {
	DeveloperToken  string `json:"developer_token"`
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	RefreshToken    string `json:"refresh_token"`
	LoginCustomerID string `json:"login_customer_id"`
}

// Provider persists the credential bundle.
type Provider interface {
	Fetch(ctx context.Context) (Bundle, error)
	Store(ctx context.Context, b Bundle) error
}

type secretStore interface {
	Access(ctx context.Context, name string) ([]byte, error)
	AddVersion(ctx context.Context, name string, data []byte) error
}

var _ secretStore = (*secrets.Client)(nil)

// SecretManagerProvider keeps the bundle as a JSON secret version. Store adds
// a new version; readers always access latest.
type SecretManagerProvider struct {
	client     secretStore
	secretName string
}

func NewSecretManagerProvider(client secretStore, secretName string) *SecretManagerProvider {
	return &SecretManagerProvider{client: client, secretName: secretName}
}

func (p *SecretManagerProvider) Fetch(ctx context.Context) (Bundle, error) {
	payload, err := p.client.Access(ctx, p.secretName)
	if err != nil {
		return Bundle{}, errors.Wrap(errors.CodeDependency, err, "fetch credential bundle")
	}

	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return Bundle{}, errors.Wrap(errors.CodeInternal, err, "decode credential bundle")
	}
	if bundle.RefreshToken == "" {
		return Bundle{}, errors.New(errors.CodeInternal, "credential bundle missing refresh token")
	}
	return bundle, nil
}

func (p *SecretManagerProvider) Store(ctx context.Context, b Bundle) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encode credential bundle")
	}
	if err := p.client.AddVersion(ctx, p.secretName, payload); err != nil {
		return errors.Wrap(errors.CodeDependency, err, "store credential bundle")
	}
	return nil
}

package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ocontreras/clicksync-backend/pkg/config"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	secretsEndpoint = "https://secretmanager.googleapis.com"
	cloudScope      = "https://www.googleapis.com/auth/cloud-platform"
)

// ErrSecretNotFound signals a missing secret or version.
var ErrSecretNotFound = errors.New("secrets: not found")

// Client reads and writes Secret Manager payloads.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	projectID   string
	tokenSource oauth2.TokenSource
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewClient builds a Secret Manager client from the GCP credentials config.
func NewClient(ctx context.Context, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errors.New("gcp project id is required")
	}

	ts, err := tokenSourceFromConfig(ctx, gcp)
	if err != nil {
		return nil, err
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		endpoint:    secretsEndpoint,
		projectID:   gcp.ProjectID,
		tokenSource: ts,
	}

	if logg != nil {
		logg.Info(ctx, "secret manager client initialized")
	}

	return client, nil
}

func tokenSourceFromConfig(ctx context.Context, gcp config.GCPConfig) (oauth2.TokenSource, error) {
	switch {
	case gcp.CredentialsJSON != "":
		creds, err := google.CredentialsFromJSON(ctx, []byte(gcp.CredentialsJSON), cloudScope)
		if err != nil {
			return nil, fmt.Errorf("parsing gcp credentials: %w", err)
		}
		return creds.TokenSource, nil
	case gcp.ApplicationCredentials != "":
		raw, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, cloudScope)
		if err != nil {
			return nil, fmt.Errorf("parsing gcp credentials: %w", err)
		}
		return creds.TokenSource, nil
	default:
		creds, err := google.FindDefaultCredentials(ctx, cloudScope)
		if err != nil {
			return nil, fmt.Errorf("resolving default gcp credentials: %w", err)
		}
		return creds.TokenSource, nil
	}
}

// Access returns the payload of the latest version of the named secret.
func (c *Client) Access(ctx context.Context, name string) ([]byte, error) {
	if c == nil {
		return nil, errors.New("secrets client not initialized")
	}
	if name == "" {
		return nil, errors.New("secret name is required")
	}

	u := fmt.Sprintf(
		"%s/v1/projects/%s/secrets/%s/versions/latest:access",
		c.endpoint,
		url.PathEscape(c.projectID),
		url.PathEscape(name),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrSecretNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("secret access for %q returned %s: %s", name, resp.Status, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		Payload struct {
			Data string `json:"data"`
		} `json:"payload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding secret payload: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(payload.Payload.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding secret data: %w", err)
	}
	return data, nil
}

// AddVersion appends a new version with the given payload to the named secret.
func (c *Client) AddVersion(ctx context.Context, name string, data []byte) error {
	if c == nil {
		return errors.New("secrets client not initialized")
	}
	if name == "" {
		return errors.New("secret name is required")
	}

	body, err := json.Marshal(map[string]any{
		"payload": map[string]string{
			"data": base64.StdEncoding.EncodeToString(data),
		},
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"%s/v1/projects/%s/secrets/%s:addVersion",
		c.endpoint,
		url.PathEscape(c.projectID),
		url.PathEscape(name),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("secret addVersion for %q returned %s: %s", name, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Ping verifies credentials can mint a token.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("secrets client not initialized")
	}
	_, err := c.tokenSource.Token()
	return err
}

func (c *Client) authorize(req *http.Request) error {
	if c.tokenSource == nil {
		return errors.New("secrets token source not initialized")
	}
	token, err := c.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("minting access token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}

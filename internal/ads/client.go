package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ocontreras/clicksync-backend/internal/sync"
	"github.com/ocontreras/clicksync-backend/pkg/config"
	apierrors "github.com/ocontreras/clicksync-backend/pkg/errors"
)

const (
	defaultEndpoint   = "https://googleads.googleapis.com"
	defaultAPIVersion = "v17"

	gaqlTimeLayout = "2006-01-02 15:04:05"
)

const clickViewQuery = "SELECT click_view.gclid, campaign.id, ad_group_ad.ad.id, " +
	"click_view.ad_network_type, segments.date_time FROM click_view " +
	"WHERE segments.date_time BETWEEN '%s' AND '%s'"

// Client talks to the Google Ads REST API with a short-lived access token.
// Instances are cheap and immutable; credentials.Manager builds a fresh one
// per run so token rotation never races an in-flight request.
type Client struct {
	httpClient      *http.Client
	endpoint        string
	version         string
	developerToken  string
	loginCustomerID string
	accessToken     string
}

func NewClient(cfg config.AdsConfig, developerToken, loginCustomerID, accessToken string) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}

	return &Client{
		httpClient:      &http.Client{Timeout: 2 * time.Minute},
		endpoint:        strings.TrimRight(endpoint, "/"),
		version:         version,
		developerToken:  developerToken,
		loginCustomerID: loginCustomerID,
		accessToken:     accessToken,
	}
}

// APIError carries the upstream HTTP status so callers can distinguish
// authentication failures from everything else.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ads api returned status %d: %s", e.StatusCode, e.Body)
}

// AuthFailure reports whether the request was rejected for a bad or expired
// access token. The sync engine sniffs for this method to decide on a
// credential rebuild.
func (e *APIError) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsAuthError reports whether err is an upstream rejection of the access
// token, the only class of failure worth a credential rebuild.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.AuthFailure()
}

type listAccessibleCustomersResponse struct {
	ResourceNames []string `json:"resourceNames"`
}

// ListAccessibleCustomers returns every customer id the credentials can see,
// with the "customers/" resource prefix stripped.
func (c *Client) ListAccessibleCustomers(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/%s/customers:listAccessibleCustomers", c.endpoint, c.version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInternal, err, "build list customers request")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeDependency, err, "list accessible customers")
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var decoded listAccessibleCustomersResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeDependency, err, "decode list customers response")
	}

	ids := make([]string, 0, len(decoded.ResourceNames))
	for _, name := range decoded.ResourceNames {
		ids = append(ids, strings.TrimPrefix(name, "customers/"))
	}
	return ids, nil
}

type searchStreamRequest struct {
	Query string `json:"query"`
}

type searchStreamRow struct {
	ClickView struct {
		Gclid         string `json:"gclid"`
		AdNetworkType string `json:"adNetworkType"`
	} `json:"clickView"`
	Campaign struct {
		ID string `json:"id"`
	} `json:"campaign"`
	AdGroupAd struct {
		Ad struct {
			ID string `json:"id"`
		} `json:"ad"`
	} `json:"adGroupAd"`
	Segments struct {
		DateTime string `json:"dateTime"`
	} `json:"segments"`
}

type searchStreamBatch struct {
	Results []searchStreamRow `json:"results"`
}

// SearchClickViews runs the click_view GAQL query for one account over the
// inclusive window and buffers every returned row.
func (c *Client) SearchClickViews(ctx context.Context, accountID string, w sync.Window) ([]sync.ClickRecord, error) {
	query := fmt.Sprintf(clickViewQuery, w.Start.Format(gaqlTimeLayout), w.End.Format(gaqlTimeLayout))

	payload, err := json.Marshal(searchStreamRequest{Query: query})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInternal, err, "marshal search request")
	}

	url := fmt.Sprintf("%s/%s/customers/%s/googleAds:searchStream", c.endpoint, c.version, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeInternal, err, "build search request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeDependency, err, "search click views")
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	// searchStream returns a JSON array of result batches.
	var batches []searchStreamBatch
	if err := json.NewDecoder(resp.Body).Decode(&batches); err != nil {
		return nil, apierrors.Wrap(apierrors.CodeDependency, err, "decode search response")
	}

	var records []sync.ClickRecord
	for _, batch := range batches {
		for _, row := range batch.Results {
			campaignID, err := parseID(row.Campaign.ID)
			if err != nil {
				return nil, apierrors.Wrap(apierrors.CodeDependency, err, "parse campaign id")
			}
			creativeID, err := parseID(row.AdGroupAd.Ad.ID)
			if err != nil {
				return nil, apierrors.Wrap(apierrors.CodeDependency, err, "parse creative id")
			}
			records = append(records, sync.ClickRecord{
				GCLID:         row.ClickView.Gclid,
				CampaignID:    campaignID,
				CreativeID:    creativeID,
				AdNetworkType: row.ClickView.AdNetworkType,
				Timestamp:     row.Segments.DateTime,
				AccountID:     accountID,
			})
		}
	}
	return records, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("developer-token", c.developerToken)
	if c.loginCustomerID != "" {
		req.Header.Set("login-customer-id", c.loginCustomerID)
	}
}

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

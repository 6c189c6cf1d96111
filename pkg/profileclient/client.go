/**
 * @description
 * This package provides a client for the external profile service. It encapsulates
 * the point query used by the trust evaluator to fetch a registered user's display
 * name and trust score when the payee is not in the local directory.
 */
package profileclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/securepay/payment-service/internal/domain"
)

// Client is a client for the profile service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new profile service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// profileResponse defines the response of the lookup endpoint.
type profileResponse struct {
	DisplayName string `json:"display_name"`
	TrustScore  *int   `json:"trust_score"`
}

// LookupProfile queries GET /profiles/lookup?identifier=... . A 404 means the
// identifier is not registered and is reported with found=false.
func (c *Client) LookupProfile(ctx context.Context, identifier string) (domain.RemoteProfile, bool, error) {
	if c.baseURL == "" {
		return domain.RemoteProfile{}, false, fmt.Errorf("profile service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/profiles/lookup?identifier=%s", c.baseURL, url.QueryEscape(strings.TrimSpace(identifier)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.RemoteProfile{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RemoteProfile{}, false, fmt.Errorf("failed to execute request to profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.RemoteProfile{}, false, nil
	}
	if resp.StatusCode >= 400 {
		return domain.RemoteProfile{}, false, fmt.Errorf("profile service returned error status %d", resp.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.RemoteProfile{}, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.TrustScore == nil {
		return domain.RemoteProfile{}, false, fmt.Errorf("profile service response is missing trust_score")
	}

	return domain.RemoteProfile{DisplayName: body.DisplayName, TrustScore: *body.TrustScore}, true, nil
}

/**
 * @description
 * This package provides a client for an external text-to-speech service. It lets
 * the alert presenter read risk warnings aloud.
 *
 * @notes
 * - The service decides how audio is played; this client only asks for it.
 * - A 404 from /speak means no voice exists for the language and is reported as
 *   ErrVoiceUnavailable.
 */
package speechclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrVoiceUnavailable = errors.New("no voice installed for language")

// Client is a client for the speech service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new speech service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type voicesResponse struct {
	Voices []string `json:"voices"`
}

type speakRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Voices lists the installed voice language tags.
func (c *Client) Voices(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to speech service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("speech service returned error status %d", resp.StatusCode)
	}

	var body voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return body.Voices, nil
}

// Speak asks the service to read text aloud in language.
func (c *Client) Speak(ctx context.Context, text, language string) error {
	payload, err := json.Marshal(speakRequest{Text: text, Language: language})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/speak", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to speech service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrVoiceUnavailable, language)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("speech service returned error status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("speech service base url is empty")
	}
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}
	return req, nil
}

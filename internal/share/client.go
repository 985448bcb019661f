// Package share talks to the card storage/share service and decorates the
// finished card with a scannable share link.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cardforge/internal/domain"
)

// Options configures the share service client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client stores finished cards and returns shareable URLs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type storeRequest struct {
	CardID  string             `json:"card_id"`
	Message string             `json:"message"`
	Panels  []domain.CardPanel `json:"panels"`
}

type storeResponse struct {
	ShareURL string `json:"share_url"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// NewClient constructs a share client with sane defaults.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		httpClient: client,
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
	}
}

// Store persists the card's panels and returns a shareable URL. Callers
// treat failure as non-fatal: the card is done either way.
func (c *Client) Store(ctx context.Context, card domain.Card) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("%w: share service not configured", domain.ErrShareFailed)
	}
	if len(card.Panels) == 0 {
		return "", fmt.Errorf("%w: card has no panels", domain.ErrShareFailed)
	}
	body, err := json.Marshal(storeRequest{
		CardID:  card.ID,
		Message: card.Message,
		Panels:  card.Panels,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cards", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrShareFailed, err)
	}
	defer resp.Body.Close()

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response", domain.ErrShareFailed)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return "", fmt.Errorf("%w: %s (%s)", domain.ErrShareFailed, out.Message, out.Code)
		}
		return "", fmt.Errorf("%w: http %d", domain.ErrShareFailed, resp.StatusCode)
	}
	if strings.TrimSpace(out.ShareURL) == "" {
		return "", errors.Join(domain.ErrShareFailed, errors.New("share: empty share url"))
	}
	return out.ShareURL, nil
}

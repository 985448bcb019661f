package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cardforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("image: api key is required")

// Options configures the HTTP client for the image-generation service.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the asynchronous generation API:
// POST /generations starts a job, GET /generations/{id} reports status.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type startRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Quality     string   `json:"quality"`
	InputImages []string `json:"input_images,omitempty"`
}

type startResponse struct {
	JobID   string `json:"job_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status       string   `json:"status"`
	Images       []string `json:"images"`
	StyleVariant string   `json:"style_variant"`
	Reason       string   `json:"reason"`
	Code         string   `json:"code"`
	Message      string   `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.cardforge-images.dev/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "artisan-xl"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

func (c *Client) Start(ctx context.Context, prompt string, cfg GenerationConfig) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("image: prompt is required")
	}
	model := cfg.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(startRequest{
		Model:       model,
		Prompt:      prompt,
		AspectRatio: cfg.AspectRatio,
		Quality:     string(cfg.Quality),
		InputImages: cfg.InputImages,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("image: start http %d", resp.StatusCode)
		}
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return "", fmt.Errorf("image: start failed: %s (%s)", out.Message, out.Code)
		}
		return "", fmt.Errorf("image: start http %d", resp.StatusCode)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", errors.New("image: missing job id in response")
	}
	c.logger.Debug().Str("remote_id", out.JobID).Str("quality", string(cfg.Quality)).Msg("image: job started")
	return out.JobID, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("image: job id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generations/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("image: status http %d", resp.StatusCode)
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return nil, fmt.Errorf("image: status failed: %s (%s)", out.Message, out.Code)
		}
		return nil, fmt.Errorf("image: status http %d", resp.StatusCode)
	}
	return normalizeStatus(out)
}

func normalizeStatus(out statusResponse) (*JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(out.Status)) {
	case "pending", "queued", "running", "processing":
		return &JobStatus{State: JobStateProcessing}, nil
	case "completed", "succeeded", "success":
		if len(out.Images) == 0 {
			return nil, errors.New("image: completed job has no images")
		}
		return &JobStatus{
			State:        JobStateCompleted,
			ImageURLs:    out.Images,
			StyleVariant: out.StyleVariant,
		}, nil
	case "failed", "error":
		reason := out.Reason
		if reason == "" {
			reason = out.Message
		}
		if reason == "" {
			reason = "generation failed"
		}
		return &JobStatus{State: JobStateFailed, Reason: reason}, nil
	default:
		return nil, fmt.Errorf("image: unknown status %q", out.Status)
	}
}

var _ Backend = (*Client)(nil)

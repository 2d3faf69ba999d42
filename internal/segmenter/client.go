// Package segmenter is the resilient client for the external background
// removal processor. One binary request/response call per attempt, with
// capped exponential backoff between attempts and synthesized progress.
package segmenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/metrics"
	"github.com/cutoutlab/cutout/internal/platform/retry"
)

const (
	defaultMaxRetries     = 2
	defaultRequestTimeout = 2 * time.Minute
	initialBackoff        = 1 * time.Second
	maxBackoff            = 5 * time.Second

	submitPath = "/remove-background"
	healthPath = "/healthz"
)

var errEmptyResult = errors.New("processor returned an empty result")

// Config carries the client settings.
type Config struct {
	BaseURL        string
	MaxRetries     int           // attempt budget; 0 means the default of 2
	RequestTimeout time.Duration // per-attempt timeout; 0 means the default
}

// Client submits working images to the segmentation processor.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxRetries   int
	clock        clockwork.Clock
	newEstimator func(report func(int)) ProgressEstimator
}

var _ domain.Segmenter = (*Client)(nil)

func NewClient(cfg Config, clock clockwork.Clock) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		maxRetries: maxRetries,
		clock:      clock,
		newEstimator: func(report func(int)) ProgressEstimator {
			return NewEstimator(clock, report)
		},
	}
}

// Submit sends the image to the processor and returns the cut-out result.
// Transport errors, non-success statuses, and empty bodies all count as
// failed attempts; once the budget is exhausted the last cause is wrapped in
// a retryable *domain.Failure with a classified user-facing message.
func (c *Client) Submit(ctx context.Context, imageBytes []byte, onProgress func(int)) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	est := c.newEstimator(onProgress)
	est.Start()
	defer est.Stop()

	start := c.clock.Now()
	policy := retry.Policy{
		MaxAttempts:    c.maxRetries,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			metrics.SegmentationRetriesTotal.Inc()
			slog.Warn("Removal attempt failed, backing off", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	result, err := retry.Do(ctx, c.clock, policy, func(error) retry.Action { return retry.Retry }, func() ([]byte, error) {
		return c.attempt(ctx, imageBytes, est)
	})
	metrics.SegmentationDurationSeconds.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		return nil, domain.ProcessingFailure(UserMessage(err), err)
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, imageBytes []byte, est ProgressEstimator) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	est.Sent()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SegmentationAttemptsTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("submit image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.SegmentationAttemptsTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("read result: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.SegmentationAttemptsTotal.WithLabelValues("bad_status").Inc()
		return nil, fmt.Errorf("processor returned status %d: %s", resp.StatusCode, errorMessage(body))
	}

	if len(body) == 0 {
		metrics.SegmentationAttemptsTotal.WithLabelValues("empty_result").Inc()
		return nil, errEmptyResult
	}

	est.Received()
	metrics.SegmentationAttemptsTotal.WithLabelValues("ok").Inc()
	return body, nil
}

// Healthy probes the processor once. A failed probe means the capability is
// absent on this deployment; the processing path is blocked, everything else
// stays available.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe processor: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("processor health returned status %d", resp.StatusCode)
	}
	return nil
}

// errorMessage extracts the human-readable message from a non-success
// response payload, falling back to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

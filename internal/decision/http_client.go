package decision

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
)

// Client asks an external decision maker for trading decisions.
type Client interface {
	Decide(ctx context.Context, p Payload) (*Decision, error)
	QuickCheck(ctx context.Context, p QuickCheckPayload) (*Decision, error)
	Close() error
}

// StatusError is a non-2xx response of the decision service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("decision service status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// IsRetryable reports whether err carries a retryable StatusError.
func IsRetryable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Retryable()
}

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPClient posts payloads as JSON and parses the response body.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	log        zerolog.Logger
	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg HTTPConfig, log zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		log:        log.With().Str("component", "decision_http").Logger(),
		sleep:      sleepCtx,
	}
}

func (c *HTTPClient) Decide(ctx context.Context, p Payload) (*Decision, error) {
	raw, err := c.post(ctx, "/decide", p)
	if err != nil {
		return nil, err
	}
	d, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) QuickCheck(ctx context.Context, p QuickCheckPayload) (*Decision, error) {
	raw, err := c.post(ctx, "/quick-check", p)
	if err != nil {
		return nil, err
	}
	d, err := ParseQuickCheck(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// post retries retryable statuses, waiting 2^attempt+1 seconds between
// attempts.
func (c *HTTPClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		raw, err := c.once(ctx, path, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == c.maxRetries-1 {
			break
		}
		wait := time.Duration(1<<attempt+1) * time.Second
		c.log.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("decision service busy, retrying")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) once(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decision request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read decision response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

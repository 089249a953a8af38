// Package estimate adapts the hosted estimation service. It returns raw
// (time, priority) strings; all normalization and validation happens in the
// reconciler. No default estimate is ever fabricated: a failed or malformed
// response surfaces as an error and the caller aborts.
package estimate

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
)

// ErrUpstream wraps estimation-service transport and HTTP failures.
var ErrUpstream = errors.New("estimation service error")

// Estimate is the raw service response for a full estimation.
type Estimate struct {
	Time     string `json:"estimated_time"`
	Priority string `json:"priority"`
}

// RetryConfig bounds the retry loop around service calls.
type RetryConfig struct {
	MaxRetries     int           // attempts after the first (default: 3)
	InitialBackoff time.Duration // first backoff (default: 1s)
	MaxBackoff     time.Duration // backoff ceiling (default: 15s)
	Timeout        time.Duration // per-request timeout (default: 60s)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     15 * time.Second,
		Timeout:        60 * time.Second,
	}
}

// Client calls the estimation endpoint.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
	retry  RetryConfig
}

// NewClient builds an estimator client for the given endpoint.
func NewClient(url, apiKey string) *Client {
	retry := DefaultRetryConfig()
	return &Client{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: retry.Timeout},
		retry:  retry,
	}
}

// NewClientWithHTTP injects a custom HTTP client; used by tests.
func NewClientWithHTTP(url, apiKey string, hc *http.Client) *Client {
	c := NewClient(url, apiKey)
	c.http = hc
	c.retry.InitialBackoff = 0
	return c
}

type estimateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// EstimatePriorityTime requests a full (time, priority) estimate for an
// issue. Either field missing from the response is an upstream error.
func (c *Client) EstimatePriorityTime(ctx context.Context, title, body string) (*Estimate, error) {
	payload, err := json.Marshal(estimateRequest{Title: title, Description: body})
	if err != nil {
		return nil, err
	}
	raw, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	var est Estimate
	if err := json.Unmarshal(raw, &est); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}
	if est.Time == "" || est.Priority == "" {
		return nil, fmt.Errorf("%w: response missing time or priority", ErrUpstream)
	}
	return &est, nil
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Completion string `json:"completion"`
}

// EstimateDuration requests a duration-only estimate, for the /time command
// with no argument. The prompt lists the allowed time labels and the most
// recent human comments; the service must answer with a single line holding
// one number and unit. Validation of the line is the caller's job.
func (c *Client) EstimateDuration(ctx context.Context, title, body string, timeLabels, recentComments []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Estimate the development time for this GitHub issue. Choose exactly one option from: %s.\n\n", quoteJoin(timeLabels))
	fmt.Fprintf(&sb, "%s\n\n%s\n", title, body)
	if len(recentComments) > 0 {
		sb.WriteString("\nRecent discussion:\n")
		for _, comment := range recentComments {
			fmt.Fprintf(&sb, "- %s\n", comment)
		}
	}
	sb.WriteString("\nAnswer with a single line containing one number and a unit.")

	payload, err := json.Marshal(chatRequest{Prompt: sb.String()})
	if err != nil {
		return "", err
	}
	raw, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}
	line := firstLine(resp.Completion)
	if line == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstream)
	}
	return line, nil
}

// post sends one JSON request with bounded retries on transient failures.
// 4xx responses are not retried: the request will not get better.
func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	backoff := c.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}

		raw, retryable, err := c.once(ctx, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, payload []byte) (raw []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= 500, fmt.Errorf("%w: %s", ErrUpstream, resp.Status)
	}
	return body, false, nil
}

func quoteJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return strings.Join(quoted, ", ")
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

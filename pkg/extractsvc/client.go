// Package extractsvc provides a client for the remote geometry extraction
// service, which returns a document's measurable items already converted
// to meters.
package extractsvc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/resilience"
)

// ItemsResponse is the body of GET /v1/documents/{id}/items.
type ItemsResponse struct {
	DocumentID string                 `json:"document_id"`
	Items      []model.MeasurableItem `json:"items"`
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// Client fetches extracted items.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(2, 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("extractsvc", "items")
	return c
}

// Items returns the measurable items of documentID.
func (c *Client) Items(ctx context.Context, documentID string) ([]model.MeasurableItem, error) {
	if documentID == "" {
		return nil, eris.New("extractsvc: empty document id")
	}
	reqURL := c.baseURL + "/v1/documents/" + url.PathEscape(documentID) + "/items"

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]model.MeasurableItem, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extractsvc: rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "extractsvc: create request")
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "extractsvc: request failed"), 0)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, eris.Wrap(err, "extractsvc: read response body")
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, eris.Errorf("extractsvc: document %s not found", documentID)
		case resp.StatusCode != http.StatusOK:
			statusErr := eris.Errorf("extractsvc: unexpected status %d: %s", resp.StatusCode, string(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}

		var out ItemsResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "extractsvc: unmarshal response")
		}
		return out.Items, nil
	})
}

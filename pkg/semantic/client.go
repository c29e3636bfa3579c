// Package semantic provides a client for an external description-to-layer
// similarity service. Scores blend into local matching; the engine treats
// any failure as "no opinion".
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/takeoff/internal/resilience"
)

// ScoreRequest is the request body of POST /v1/score.
type ScoreRequest struct {
	Description string   `json:"description"`
	Layers      []string `json:"layers"`
}

// ScoreResponse maps layer names to similarity in [0,1].
type ScoreResponse struct {
	Scores map[string]float64 `json:"scores"`
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

// Client scores descriptions against layer names.
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
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("semantic", "score")
	return c
}

// Score returns a similarity per layer. Layers the service does not score
// are absent from the map.
func (c *Client) Score(ctx context.Context, description string, layers []string) (map[string]float64, error) {
	if len(layers) == 0 {
		return map[string]float64{}, nil
	}
	payload, err := json.Marshal(ScoreRequest{Description: description, Layers: layers})
	if err != nil {
		return nil, eris.Wrap(err, "semantic: marshal request")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (map[string]float64, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "semantic: rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "semantic: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "semantic: request failed"), 0)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, eris.Wrap(err, "semantic: read response body")
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := eris.Errorf("semantic: unexpected status %d: %s", resp.StatusCode, string(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}

		var out ScoreResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "semantic: unmarshal response")
		}
		if out.Scores == nil {
			out.Scores = map[string]float64{}
		}
		return out.Scores, nil
	})
}

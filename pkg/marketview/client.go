// Package marketview is a client for the third-party marketplace mirror that
// serves the cheapest open listings per item.
package marketview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/resilience"
)

const defaultBaseURL = "https://weav3r.dev/api/marketplace"

// Client fetches the cheapest open listings for an item.
type Client interface {
	FetchTopListings(ctx context.Context, itemID int64, limit int) ([]model.Listing, error)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithCircuitBreaker replaces the default breaker, used in tests.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) { c.breaker = cb }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

var _ Client = (*httpClient)(nil)

// NewClient creates a marketplace mirror client. The mirror is a best-effort
// upstream, so calls run behind a circuit breaker that trips after repeated
// failures instead of hammering a down host every cycle.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		}),
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listingsResponse struct {
	ItemID   int64 `json:"item_id"`
	Listings []struct {
		PlayerID   int64  `json:"player_id"`
		PlayerName string `json:"player_name"`
		Quantity   int64  `json:"quantity"`
		Price      int64  `json:"price"`
	} `json:"listings"`
}

// FetchTopListings returns up to limit of the cheapest open listings for the
// item. Returns ErrCircuitOpen without a network call while the breaker is
// tripped.
func (c *httpClient) FetchTopListings(ctx context.Context, itemID int64, limit int) ([]model.Listing, error) {
	raw, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*listingsResponse, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*listingsResponse, error) {
			return c.fetch(ctx, itemID)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "marketview: fetch listings for item %d", itemID)
	}

	listings := make([]model.Listing, 0, min(limit, len(raw.Listings)))
	for i, l := range raw.Listings {
		if limit > 0 && i >= limit {
			break
		}
		listings = append(listings, model.Listing{
			ItemID:    itemID,
			ActorID:   l.PlayerID,
			ActorName: l.PlayerName,
			Quantity:  l.Quantity,
			UnitPrice: l.Price,
		})
	}
	return listings, nil
}

func (c *httpClient) fetch(ctx context.Context, itemID int64) (*listingsResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "marketview: rate limit wait")
	}

	endpoint := fmt.Sprintf("%s/%d", c.baseURL, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "marketview: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(err, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("marketview: HTTP %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out listingsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "marketview: decode response")
	}
	return &out, nil
}

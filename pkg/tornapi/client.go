// Package tornapi is a client for the official actor API: profile status plus
// the actor's open bazaar inventory in one call.
package tornapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/resilience"
)

const defaultBaseURL = "https://api.torn.com/v2"

// Result is one actor's profile and inventory as of a single fetch.
// Inventory is nil when the actor's listing is closed.
type Result struct {
	Profile   model.ProfileSnapshot
	Inventory []model.InventoryEntry
}

// Client fetches actor profiles and inventories.
type Client interface {
	FetchInventoryAndProfile(ctx context.Context, actorID int64) (*Result, error)
}

// APIError is an application-level error returned by the upstream API.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tornapi: API error %d: %s", e.Code, e.Message)
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

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

var _ Client = (*httpClient)(nil)

// NewClient creates a client authenticated with the given API key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(8, 8),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// userResponse mirrors the upstream user endpoint with the profile and
// bazaar selections.
type userResponse struct {
	Error *struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	} `json:"error"`
	PlayerID   int64  `json:"player_id"`
	Name       string `json:"name"`
	LastAction struct {
		Relative string `json:"relative"`
		Status   string `json:"status"`
	} `json:"last_action"`
	Status struct {
		State       string `json:"state"`
		Description string `json:"description"`
		Details     string `json:"details"`
	} `json:"status"`
	Bazaar []bazaarItem `json:"bazaar"`
}

type bazaarItem struct {
	ID       int64  `json:"ID"`
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

// FetchInventoryAndProfile fetches the actor's profile and open inventory.
// A closed listing yields a nil Inventory with ListingOpen false; transient
// upstream failures are retried with backoff.
func (c *httpClient) FetchInventoryAndProfile(ctx context.Context, actorID int64) (*Result, error) {
	endpoint := fmt.Sprintf("%s/user/%d?selections=profile,bazaar&key=%s",
		c.baseURL, actorID, url.QueryEscape(c.apiKey))

	raw, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*userResponse, error) {
		return c.fetch(ctx, endpoint)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tornapi: fetch actor %d", actorID)
	}

	condition, muggedBy := model.ClassifyStatus(raw.Status.State, raw.Status.Description, raw.Status.Details)

	res := &Result{
		Profile: model.ProfileSnapshot{
			ActorID:           actorID,
			Name:              raw.Name,
			LastActionMinutes: model.ParseLastActionMinutes(raw.LastAction.Relative),
			StatusState:       raw.Status.State,
			StatusDescription: raw.Status.Description,
			Condition:         condition,
			MuggedBy:          muggedBy,
			ListingOpen:       raw.Bazaar != nil,
		},
	}
	if raw.PlayerID != 0 {
		res.Profile.ActorID = raw.PlayerID
	}

	if raw.Bazaar != nil {
		res.Inventory = make([]model.InventoryEntry, 0, len(raw.Bazaar))
		for _, it := range raw.Bazaar {
			res.Inventory = append(res.Inventory, model.InventoryEntry{
				ItemID:    it.ID,
				ItemName:  it.Name,
				Quantity:  it.Quantity,
				UnitPrice: it.Price,
			})
		}
	}
	return res, nil
}

func (c *httpClient) fetch(ctx context.Context, endpoint string) (*userResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "tornapi: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "tornapi: create request")
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
		err := eris.Errorf("tornapi: HTTP %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out userResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "tornapi: decode response")
	}
	if out.Error != nil {
		return nil, &APIError{Code: out.Error.Code, Message: out.Error.Error}
	}
	return &out, nil
}

package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const coinGeckoAPI = "https://api.coingecko.com/api/v3"

// ErrNoQuote means the upstream answered but had no price for the asset.
var ErrNoQuote = errors.New("no price data")

// Quote is the USD market data for one asset.
type Quote struct {
	USD       float64 `json:"usd"`
	Change24h float64 `json:"usd_24h_change"`
	MarketCap float64 `json:"usd_market_cap"`
	Volume24h float64 `json:"usd_24h_vol"`
}

// Source is a batched price lookup.
type Source interface {
	GetPrices(ctx context.Context, ids []string) (map[string]Quote, error)
}

// Validator checks whether an asset id exists upstream.
type Validator interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Client talks to the CoinGecko public API.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAPIKey sends a demo API key with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithRateLimit caps outgoing requests per minute. Zero disables the limit.
func WithRateLimit(perMinute int) ClientOption {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// NewClient creates a CoinGecko client with the given request timeout.
func NewClient(timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: coinGeckoAPI,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPrices fetches USD quotes for all ids in a single request. Ids the
// upstream does not know are absent from the result.
func (c *Client) GetPrices(ctx context.Context, ids []string) (map[string]Quote, error) {
	if len(ids) == 0 {
		return map[string]Quote{}, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	q := url.Values{}
	q.Set("ids", strings.Join(sorted, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_24hr_change", "true")

	resp, err := c.get(ctx, "/simple/price?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko prices: status %d", resp.StatusCode)
	}

	var raw map[string]map[string]*float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode coingecko prices: %w", err)
	}

	out := make(map[string]Quote, len(raw))
	for id, fields := range raw {
		usd := fields["usd"]
		if usd == nil {
			continue
		}
		out[id] = Quote{
			USD:       *usd,
			Change24h: value(fields["usd_24h_change"]),
			MarketCap: value(fields["usd_market_cap"]),
			Volume24h: value(fields["usd_24h_vol"]),
		}
	}
	return out, nil
}

// Quote fetches market data for one asset.
func (c *Client) Quote(ctx context.Context, id string) (Quote, error) {
	id = NormalizeID(id)
	prices, err := c.GetPrices(ctx, []string{id})
	if err != nil {
		return Quote{}, err
	}
	q, ok := prices[id]
	if !ok {
		return Quote{}, fmt.Errorf("%w for %q", ErrNoQuote, id)
	}
	return q, nil
}

// Exists reports whether the coin id is known. A 404 is a definite "no";
// any other failure is returned as an error.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	resp, err := c.get(ctx, "/coins/"+url.PathEscape(NormalizeID(id))+
		"?localization=false&tickers=false&market_data=false&community_data=false&developer_data=false")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("coingecko coin %s: status %d", id, resp.StatusCode)
	}
	return true, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create coingecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pulsebot/1.0")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request: %w", err)
	}
	return resp, nil
}

// NormalizeID lowercases and trims an asset id.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

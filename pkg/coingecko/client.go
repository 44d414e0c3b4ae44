// Package coingecko is a small REST client for the CoinGecko v3 market endpoints.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// ErrRateLimited is returned when the upstream answers 429.
var ErrRateLimited = errors.New("coingecko: rate limited")

// StatusError reports any other non-200 response.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("coingecko %s status %d", e.Endpoint, e.Code)
}

// Coin is one row of /coins/markets.
type Coin struct {
	ID                       string    `json:"id"`
	Symbol                   string    `json:"symbol"`
	Name                     string    `json:"name"`
	Image                    string    `json:"image,omitempty"`
	CurrentPrice             float64   `json:"current_price"`
	MarketCap                float64   `json:"market_cap"`
	TotalVolume              float64   `json:"total_volume"`
	PriceChangePercentage24h float64   `json:"price_change_percentage_24h"`
	Sparkline                Sparkline `json:"sparkline_in_7d"`
}

// Sparkline holds the 7 day price series.
type Sparkline struct {
	Price []float64 `json:"price"`
}

// Client wraps REST access to CoinGecko.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client. rps <= 0 disables the client-side rate cap.
func NewClient(baseURL, apiKey string, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// Markets fetches the top perPage assets ordered by market cap.
func (c *Client) Markets(ctx context.Context, vsCurrency string, perPage int) ([]Coin, error) {
	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("order", "market_cap_desc")
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	params.Set("page", "1")
	params.Set("sparkline", "true")
	params.Set("price_change_percentage", "24h")

	var coins []Coin
	if err := c.get(ctx, "/coins/markets", params, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// Coin fetches a single asset. A nil Coin with nil error means the id is unknown upstream.
func (c *Client) Coin(ctx context.Context, id, vsCurrency string) (*Coin, error) {
	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("ids", id)
	params.Set("sparkline", "true")
	params.Set("price_change_percentage", "24h")

	var coins []Coin
	if err := c.get(ctx, "/coins/markets", params, &coins); err != nil {
		return nil, err
	}
	for i := range coins {
		if coins[i].ID == id {
			return &coins[i], nil
		}
	}
	return nil, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := fmt.Sprintf("%s%s?%s", c.BaseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.APIKey)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case res.StatusCode != http.StatusOK:
		return &StatusError{Endpoint: path, Code: res.StatusCode}
	}
	return json.NewDecoder(res.Body).Decode(out)
}

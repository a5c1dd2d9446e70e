// Package binance fetches historical klines and latest prices from the
// Binance spot REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://api.binance.com"
	pageLimit      = 1000 // API maximum per request
)

// Client is a minimal Binance spot REST client. It needs no credentials.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	now func() time.Time
}

// New creates a Client. An empty base uses the public endpoint.
func New(base string) *Client {
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		BaseURL: base,
		HTTP: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 15 * time.Second}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		now: time.Now,
	}
}

func (c *Client) buildURL(endpoint string, params url.Values) string {
	return c.BaseURL + endpoint + "?" + params.Encode()
}

// APIError is a non-200 response from the exchange.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("status %d: code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("status %d", e.Status)
}

func (c *Client) fetchJSON(ctx context.Context, fullURL string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(target)
}

// TickerPrice returns the latest traded price for symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Symbol string      `json:"symbol"`
		Price  json.Number `json:"price"`
	}
	u := c.buildURL("/api/v3/ticker/price", url.Values{"symbol": {symbol}})
	if err := c.fetchJSON(ctx, u, &out); err != nil {
		return 0, fmt.Errorf("binance ticker %s: %w", symbol, err)
	}
	p, err := strconv.ParseFloat(out.Price.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("binance ticker %s: bad price %q: %w", symbol, out.Price, err)
	}
	return p, nil
}

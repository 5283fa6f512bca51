package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://www.alphavantage.co"

var (
	// ErrNoCredential means no API key is configured.
	ErrNoCredential = errors.New("alphavantage: no api key")
	// ErrMissingRate means the payload had no exchange-rate field, which is
	// how the free tier reports throttling ("Note"/"Information" bodies).
	ErrMissingRate = errors.New("alphavantage: exchange rate missing from payload")
	// ErrMalformedRate means the rate field was present but not a number.
	ErrMalformedRate = errors.New("alphavantage: malformed exchange rate")
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries the CURRENCY_EXCHANGE_RATE function.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPClient
}

// ClientOption is a configuration option for Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(apiKey string, timeout time.Duration, options ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// HasCredential reports whether outbound calls are possible at all.
func (c *Client) HasCredential() bool {
	return c.apiKey != ""
}

type exchangeRateResponse struct {
	Realtime *struct {
		From string `json:"1. From_Currency Code"`
		To   string `json:"3. To_Currency Code"`
		Rate string `json:"5. Exchange Rate"`
	} `json:"Realtime Currency Exchange Rate"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// USDCNY fetches the realtime USD→CNY exchange rate.
func (c *Client) USDCNY(ctx context.Context) (float64, error) {
	if c.apiKey == "" {
		return 0, ErrNoCredential
	}

	q := url.Values{}
	q.Set("function", "CURRENCY_EXCHANGE_RATE")
	q.Set("from_currency", "USD")
	q.Set("to_currency", "CNY")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("alphavantage error: status %d: %s", resp.StatusCode, body)
	}

	var payload exchangeRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if payload.Realtime == nil || payload.Realtime.Rate == "" {
		if msg := payload.Note + payload.Information; msg != "" {
			return 0, fmt.Errorf("%w: %s", ErrMissingRate, msg)
		}
		return 0, ErrMissingRate
	}

	rate, err := strconv.ParseFloat(strings.TrimSpace(payload.Realtime.Rate), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedRate, payload.Realtime.Rate)
	}
	return rate, nil
}

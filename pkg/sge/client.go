package sge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://en.sge.com.cn"
	quotationsPath = "/graph/quotations"
)

// ErrRateLimited is returned when the exchange answers 429.
var ErrRateLimited = errors.New("sge: rate limited")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=sge_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches minute quotation series from the exchange's public graph
// endpoint.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	limiter    *rate.Limiter
	header     http.Header
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

// WithLimiter paces outbound requests. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient creates a quotation client with a request timeout and a default
// pace of one request per second.
func NewClient(timeout time.Duration, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 2),
		header:     defaultHeader(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// The endpoint serves the exchange's own charts and expects an XHR from its
// site.
func defaultHeader() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	h.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	h.Set("Origin", "https://en.sge.com.cn")
	h.Set("Referer", "https://en.sge.com.cn/")
	h.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	h.Set("X-Requested-With", "XMLHttpRequest")
	return h
}

// FetchQuote returns the current trading day's minute series for inst.
func (c *Client) FetchQuote(ctx context.Context, inst Instrument) (Quote, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Quote{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	form := url.Values{"instid": {inst.InstID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+quotationsPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Quote{}, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Quote{}, fmt.Errorf("%s: %w", inst.Metal, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("sge error: status %d: %s", resp.StatusCode, body)
	}

	var raw QuotationResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Quote{}, fmt.Errorf("decode response: %w", err)
	}
	return raw.toQuote(), nil
}

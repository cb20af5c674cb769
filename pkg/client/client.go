// Package client provides the partner API HTTP client used by the price
// exporter: authorization, the paged and batched offer-price calls, campaign
// discovery, and typed API errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for partner API calls.
var (
	marketRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_requests_total",
		Help: "Total partner API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	marketRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_request_duration_seconds",
		Help:    "Partner API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	marketErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_errors_total",
		Help: "Total partner API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the production partner API.
const DefaultBaseURL = "https://api.partner.market.yandex.ru"

// Client is the partner API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the partner API (default: DefaultBaseURL).
	BaseURL string

	// CampaignID scopes the offer-price calls.
	CampaignID string

	// Credential authorizes every request.
	Credential Credential

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per request.
	Timeout time.Duration
}

// DefaultConfig returns a configuration for the production API.
func DefaultConfig(cred Credential, campaignID string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		CampaignID: campaignID,
		Credential: cred,
		UserAgent:  "market-price-exporter/1.0",
		Timeout:    30 * time.Second,
	}
}

// New creates a new partner API client.
func New(cfg Config) (*Client, error) {
	if cfg.Credential.Token == "" {
		return nil, ErrMissingToken
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "market-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}, nil
}

// response is a completed HTTP exchange, whatever its status.
type response struct {
	StatusCode int
	Body       []byte
}

// send performs one request. HTTP error statuses are returned as a response,
// only transport failures become errors. route is the templated path used as
// the metrics label.
func (c *Client) send(ctx context.Context, method, route, path string, query url.Values, payload any) (*response, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for key, values := range c.config.Credential.Headers() {
		req.Header[key] = values
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", route).
		Str("query", u.RawQuery).
		Msg("Executing partner API request")

	startTime := time.Now()
	defer func() {
		marketRequestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		marketErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		marketRequestsTotal.WithLabelValues(route, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", route).Msg("HTTP request failed")
		return nil, fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		marketErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, fmt.Errorf("read %s response: %w", route, err)
	}

	marketRequestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

	return &response{StatusCode: resp.StatusCode, Body: data}, nil
}

// do performs a request and decodes a 200 body into out. Any other status
// becomes an *APIError.
func (c *Client) do(ctx context.Context, method, route, path string, query url.Values, payload, out any) error {
	resp, err := c.send(ctx, method, route, path, query, payload)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Endpoint:   route,
			Message:    errorMessage(resp.Body),
		}
		marketErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()

		c.logger.Warn().
			Str("endpoint", route).
			Int("status", apiErr.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Str("message", apiErr.Message).
			Msg("Partner API error")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", route, err)
	}
	return nil
}

// CampaignID returns the configured campaign.
func (c *Client) CampaignID() string {
	return c.config.CampaignID
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

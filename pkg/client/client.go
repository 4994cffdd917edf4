// Package client provides the authenticated HTTP client for the Flinkster
// bookingproposals API.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bike-crawler/pkg/logging"
	"github.com/Sternrassler/bike-crawler/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Endpoint is the path, relative to the base URL, of the archived resource.
const Endpoint = "bookingproposals"

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikecrawler_requests_total",
		Help: "Total bookingproposals requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bikecrawler_request_duration_seconds",
		Help:    "bookingproposals request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikecrawler_errors_total",
		Help: "Total failed or non-2xx requests by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses (e.g. an expired token).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport, timeout and body read errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Query is the fixed geographic query sent with every page request.
type Query struct {
	Latitude        string
	Longitude       string
	Radius          int
	Limit           int
	ProviderNetwork int
	Expand          string
}

// Values encodes the query for the page starting at offset.
func (q Query) Values(offset int) url.Values {
	v := url.Values{}
	v.Set("lat", q.Latitude)
	v.Set("lon", q.Longitude)
	v.Set("radius", strconv.Itoa(q.Radius))
	v.Set("offset", strconv.Itoa(offset))
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("providernetwork", strconv.Itoa(q.ProviderNetwork))
	v.Set("expand", q.Expand)
	return v
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. https://api.deutschebahn.com/flinkster-api-ng/v1/
	BaseURL string

	// Token is sent as "Authorization: Bearer <token>" (REQUIRED).
	Token string

	// UserAgent header value.
	UserAgent string

	// Timeout bounds a single request including the body read.
	Timeout time.Duration

	Query Query
}

// DefaultConfig returns the configuration of the Darmstadt query the crawler
// was built for.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:   "https://api.deutschebahn.com/flinkster-api-ng/v1/",
		Token:     token,
		UserAgent: "bike-crawler/1.0",
		Timeout:   30 * time.Second,
		Query: Query{
			Latitude:        "49.8739",
			Longitude:       "8.6512",
			Radius:          10000,
			Limit:           50,
			ProviderNetwork: 2,
			Expand:          "rentalobject",
		},
	}
}

// Client fetches single pages of bookingproposals.
type Client struct {
	httpClient *http.Client
	endpoint   *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new API client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}

	if cfg.Query.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0 (got %d)", cfg.Query.Limit)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		endpoint: base.JoinPath(Endpoint),
		config:   cfg,
		logger:   logging.NewLogger(logger, "api-client"),
	}, nil
}

// Limit returns the page size sent with every request.
func (c *Client) Limit() int {
	return c.config.Query.Limit
}

// URL returns the full request URL for the page starting at offset.
func (c *Client) URL(offset int) string {
	u := *c.endpoint
	u.RawQuery = c.config.Query.Values(offset).Encode()
	return u.String()
}

// FetchPage requests the page starting at offset and returns its raw body.
// The status code is reported but never checked: error payloads are returned
// like any other body so they get archived.
func (c *Client) FetchPage(ctx context.Context, offset int) (pagination.Page, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(offset), nil)
	if err != nil {
		return pagination.Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Int("offset", offset).
		Str("authorization", redactAuthorization(req.Header.Get("Authorization"))).
		Msg("Requesting bookingproposals")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pagination.Page{}, c.networkError(offset, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pagination.Page{}, c.networkError(offset, "read body", err)
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Int("offset", offset).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Int("bytes", len(body)).
			Msg("Non-success response, archiving body anyway")
	} else {
		c.logger.Debug().
			Int("offset", offset).
			Int("status_code", resp.StatusCode).
			Int("bytes", len(body)).
			Dur("duration", time.Since(startTime)).
			Msg("Received bookingproposals page")
	}

	return pagination.Page{
		Offset:     offset,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

func (c *Client) networkError(offset int, msg string, err error) error {
	errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	requestsTotal.WithLabelValues("network_error").Inc()
	c.logger.Error().Err(err).Int("offset", offset).Msg("HTTP request failed")
	return &RequestError{
		Offset:     offset,
		ErrorClass: ErrorClassNetwork,
		Message:    msg,
		Err:        err,
	}
}

// classifyStatus returns the class of a non-2xx status, or "" for success.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// redactAuthorization keeps the scheme of an Authorization value and hides
// the credential.
func redactAuthorization(value string) string {
	if value == "" {
		return ""
	}
	if scheme, _, ok := strings.Cut(value, " "); ok {
		return scheme + " ***"
	}
	return "***"
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/incident-sync/internal/circuitbreaker"
	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/logging"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 32 << 20

// Fetcher issues one call to the upstream system and decodes the JSON
// response into out. Implementations do not retry.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error {
	return f(ctx, endpoint, params, out)
}

// Credentials is the envelope SIGAE expects in every request body.
type Credentials struct {
	IP         string
	Username   string
	Password   string
	SystemCode string
}

func (c Credentials) apply(body map[string]interface{}) {
	body["IP"] = c.IP
	body["Password"] = c.Password
	body["Usuario"] = c.Username
	body["codSistema"] = c.SystemCode
}

// Client is the credentialed HTTP fetcher for SIGAE. It is safe for
// concurrent use; the rate limiter and circuit breaker are shared by every
// caller in the process.
type Client struct {
	baseURL     string
	credentials Credentials
	client      *http.Client
	limiter     *rate.Limiter
	breaker     *circuitbreaker.CircuitBreaker
	logger      *logging.Logger
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the client logger
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l.Named("sigae") }
}

// WithCircuitBreaker sets the breaker guarding upstream calls
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// NewClient creates a SIGAE client from the upstream configuration
func NewClient(cfg *config.UpstreamConfig, opts ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewConfigurationError("SIGAE_API_URL", "base URL is required")
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		credentials: Credentials{
			IP:         cfg.IP,
			Username:   cfg.Username,
			Password:   cfg.Password,
			SystemCode: cfg.SystemCode,
		},
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.GetGlobalLogger().Named("sigae"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BreakerCountsError decides which fetch errors count toward opening the
// circuit: transport failures and 5xx/429 answers. Cancellations and
// malformed bodies do not.
func BreakerCountsError(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	catErr := errors.Categorize(err)
	switch catErr.Category {
	case errors.CategoryTransport:
		return true
	case errors.CategoryUpstream:
		status, _ := catErr.Details["upstreamStatus"].(int)
		return status >= 500 || status == http.StatusTooManyRequests
	}
	return false
}

// Fetch POSTs params plus the credential envelope to baseURL/endpoint.
// Callers cannot override credential keys.
func (c *Client) Fetch(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error {
	if c.breaker == nil {
		return c.do(ctx, endpoint, params, out)
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.do(ctx, endpoint, params, out)
	})
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return errors.NewTransportError(endpoint, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.NewTransportError(endpoint, fmt.Errorf("rate limiter: %w", err))
	}

	body := make(map[string]interface{}, len(params)+4)
	for k, v := range params {
		body[k] = v
	}
	c.credentials.apply(body)

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to encode request for %s", endpoint), err)
	}

	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to build request for %s", endpoint), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"endpoint": endpoint,
			"duration": time.Since(start).String(),
		}).WithError(err).Warn("Upstream request failed")
		return errors.NewTransportError(endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("Upstream request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return errors.NewUpstreamError(endpoint, resp.StatusCode, fmt.Errorf("%s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.NewTransportError(endpoint, fmt.Errorf("failed to read body: %w", err))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewUpstreamError(endpoint, resp.StatusCode, fmt.Errorf("failed to decode body: %w", err))
	}
	return nil
}

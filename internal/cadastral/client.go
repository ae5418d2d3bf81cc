package cadastral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"land-search/internal/metrics"
)

const searchPath = "/api/geoportal/v2/search/geoportal"

// Client looks up cadastral objects on the NSPD geoportal behind a circuit
// breaker. Construct one per operation or batch and Close it afterwards; its
// configuration is fixed at construction.
type Client struct {
	cfg         Config
	transport   Transport
	breaker     *Breaker
	breakerOpts []BreakerOption
	logger      *slog.Logger
	metrics     *metrics.Metrics

	group     singleflight.Group
	closeOnce sync.Once
}

// Option configures a Client
type Option func(*Client)

// WithTransport replaces the transport selected by Config.Transport
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreakerOptions passes options through to the circuit breaker
func WithBreakerOptions(opts ...BreakerOption) Option {
	return func(c *Client) { c.breakerOpts = append(c.breakerOpts, opts...) }
}

// NewClient creates a client with a closed circuit
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	breakerOpts := append(c.breakerOpts, WithStateChange(c.onStateChange))
	c.breaker = NewBreaker(cfg.FailureThreshold, cfg.Cooldown, breakerOpts...)
	c.metrics.ResetBreakerState(int(StateClosed))

	if c.transport == nil {
		var err error
		switch cfg.Transport {
		case TransportBrowser:
			c.transport, err = NewBrowserTransport(cfg)
		default:
			c.transport, err = NewHTTPTransport(cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("creating %s transport: %w", cfg.Transport, err)
		}
	}
	return c, nil
}

// Lookup returns the object for a cadastral number, or nil when it is not
// found, the circuit is open, or the upstream failed. Failures are logged here
// and never returned.
func (c *Client) Lookup(ctx context.Context, cadastralNumber string) *Object {
	obj, err := c.Find(ctx, cadastralNumber)
	log := c.logger.With("cadastral_number", cadastralNumber)

	switch {
	case err == nil:
		log.Info("nspd object found", "geometry_type", string(obj.GeometryType))
	case errors.Is(err, ErrNotFound):
		log.Info("nspd object not found")
	case errors.Is(err, ErrCircuitOpen):
		log.Warn("nspd circuit open, failing fast")
	case ctx.Err() != nil:
		log.Debug("nspd lookup abandoned by caller", "error", err)
	default:
		log.Error("nspd lookup failed", "error", err, "state", c.breaker.State().String(), "failures", c.breaker.Failures())
	}
	return obj
}

// Find is Lookup with the failure reason: ErrNotFound, ErrCircuitOpen,
// *StatusError, or a transport or decoding error. Concurrent calls for the
// same number share one upstream request. The shared request is detached from
// every caller's cancellation and bounded only by the configured timeout; a
// caller that gives up returns its own context error and leaves the others
// waiting on the result.
func (c *Client) Find(ctx context.Context, cadastralNumber string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		c.metrics.ObserveLookup("cancelled", 0)
		return nil, fmt.Errorf("lookup %s: %w", cadastralNumber, err)
	}

	ch := c.group.DoChan(cadastralNumber, func() (any, error) {
		return c.find(context.WithoutCancel(ctx), cadastralNumber)
	})

	select {
	case <-ctx.Done():
		c.metrics.ObserveLookup("cancelled", 0)
		return nil, fmt.Errorf("lookup %s: %w", cadastralNumber, ctx.Err())
	case res := <-ch:
		obj, _ := res.Val.(*Object)
		return obj, res.Err
	}
}

func (c *Client) find(ctx context.Context, cadastralNumber string) (*Object, error) {
	if !c.breaker.Allow() {
		c.metrics.ObserveLookup("circuit_open", 0)
		return nil, ErrCircuitOpen
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.transport.Get(reqCtx, c.searchURL(cadastralNumber))
	elapsed := time.Since(start)

	if err != nil {
		// Only Close cancels a request in flight; that says nothing about upstream health
		if errors.Is(err, context.Canceled) {
			c.breaker.Release()
			c.metrics.ObserveLookup("cancelled", elapsed)
			return nil, fmt.Errorf("lookup %s: %w", cadastralNumber, err)
		}
		c.breaker.RecordFailure()
		c.metrics.ObserveLookup("failure", elapsed)
		return nil, fmt.Errorf("lookup %s: %w", cadastralNumber, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breaker.RecordFailure()
		c.metrics.ObserveLookup("failure", elapsed)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(resp.Body), 200)}
	}

	obj, err := MapResponse(resp.Body, cadastralNumber)
	switch {
	case errors.Is(err, ErrNotFound):
		c.breaker.RecordSuccess()
		c.metrics.ObserveLookup("not_found", elapsed)
		return nil, err
	case err != nil:
		// A 200 with an undecodable body is usually a bot challenge page
		c.breaker.RecordFailure()
		c.metrics.ObserveLookup("failure", elapsed)
		return nil, err
	}

	c.breaker.RecordSuccess()
	c.metrics.ObserveLookup("found", elapsed)
	return obj, nil
}

func (c *Client) searchURL(cadastralNumber string) string {
	params := url.Values{}
	params.Set("thematicSearchId", "1")
	params.Set("query", cadastralNumber)
	return fmt.Sprintf("%s%s?%s", c.cfg.BaseURL, searchPath, params.Encode())
}

func (c *Client) onStateChange(from, to State) {
	c.metrics.SetBreakerState(int(to), to.String())
	switch to {
	case StateOpen:
		c.logger.Error("nspd circuit opened", "from", from.String(), "cooldown", c.breaker.cooldown.String())
	case StateHalfOpen:
		c.logger.Warn("nspd circuit half-open, trying request")
	case StateClosed:
		c.logger.Info("nspd circuit closed", "from", from.String())
	}
}

// State returns the breaker state
func (c *Client) State() State {
	return c.breaker.State()
}

// Failures returns the consecutive failure count
func (c *Client) Failures() int {
	return c.breaker.Failures()
}

// Close releases the transport. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

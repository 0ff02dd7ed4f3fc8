// Package nws fetches alert feed documents from the National Weather Service.
package nws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultUserAgent = "PutnamCountyAlertSystem/1.0"
	DefaultTimeout   = 30 * time.Second
	DefaultCacheTTL  = 300 * time.Second

	defaultCacheSize = 512
	maxBodyBytes     = 16 << 20
)

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	UserAgent string
	Accept    string
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
	Clock     clockwork.Clock
}

// Client fetches feed documents over HTTP with a short-TTL response cache.
// Concurrent fetches of the same URL share one upstream request.
type Client struct {
	httpClient *http.Client
	userAgent  string
	accept     string
	cache      *ttlCache
	group      singleflight.Group
	breaker    *gobreaker.CircuitBreaker
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a feed client.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CacheTTL < 0 {
		opts.CacheTTL = 0
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: http1Transport(),
		},
		userAgent: opts.UserAgent,
		accept:    opts.Accept,
		cache:     newTTLCache(opts.CacheTTL, opts.CacheSize, opts.Clock),
		breaker:   newBreaker(logger),
		clock:     opts.Clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// http1Transport returns a transport that never negotiates HTTP/2. TLS
// certificates are verified.
func http1Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ForceAttemptHTTP2 = false
	t.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	return t
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nws-feed",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors (404 for a withdrawn alert) say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("feed circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// statusError is a non-200 upstream response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("nws feed error: status %d: %s", e.code, e.body)
}

// Fetch returns the payload at url, serving from cache when the cached copy is
// younger than the TTL. Non-200 responses, transport failures, and empty
// bodies are reported as domain.ErrFetch.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if payload, ok := c.cache.get(url); ok {
		c.metrics.FeedFetches.WithLabelValues("hit").Inc()
		return payload, nil
	}

	// result stays empty for callers that only waited on another caller's
	// request.
	var result string
	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		if payload, ok := c.cache.get(url); ok {
			result = "hit"
			return payload, nil
		}
		result = "miss"
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, url)
		})
		if err != nil {
			result = "error"
			return nil, err
		}
		payload := out.([]byte)
		c.cache.put(url, payload)
		return payload, nil
	})
	if result == "" {
		result = "shared"
		c.logger.Debug("feed fetch shared", "url", url)
	}
	c.metrics.FeedFetches.WithLabelValues(result).Inc()

	if err != nil {
		if !errors.Is(err, domain.ErrFetch) {
			err = fmt.Errorf("%w: %s: %w", domain.ErrFetch, url, err)
		}
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrFetch, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cache-Control", "no-cache")
	if c.accept != "" {
		req.Header.Set("Accept", c.accept)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FeedFetchDuration.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", domain.ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrFetch, url, &statusError{code: resp.StatusCode, body: string(body)})
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrFetch, url, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", domain.ErrFetch, url)
	}

	c.logger.Debug("feed fetched", "url", url, "bytes", len(payload), "status", resp.StatusCode)
	return payload, nil
}

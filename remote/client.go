// Package remote produces fetch functions backed by the catalog HTTP API.
package remote

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

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/krisalay/progressive-cache/adaptive"
	"github.com/krisalay/progressive-cache/progressive"
)

const (
	metadataPath = "/api/virtual-slides/metadata"
	detailsPath  = "/api/virtual-slides/details"
	listPath     = "/api/virtual-slides"
)

// Config holds the catalog client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// RequestsPerSecond caps outgoing requests. Zero means no limit.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries    uint
	RetryInterval time.Duration

	// BreakerFailures is the number of consecutive failures that opens the
	// circuit; BreakerTimeout is how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 20,
		Burst:             10,
		MaxRetries:        2,
		RetryInterval:     200 * time.Millisecond,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Temporary reports whether retrying could help.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

/*
Client talks to the catalog API. Every request goes through:
- a rate limiter shared by all callers
- a circuit breaker that fails fast while the catalog is down
- bounded exponential retries for temporary failures
*/
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	log     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("remote")

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = DefaultConfig().BreakerFailures
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "catalog",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		cfg:     cfg,
		log:     logger,
	}, nil
}

// Metadata loads the metadata index for f.
func (c *Client) Metadata(ctx context.Context, f progressive.Filter) (progressive.Dataset, error) {
	return getJSON[progressive.Dataset](ctx, c, metadataPath, f.Values())
}

// Details loads detail records for ids in one request.
func (c *Client) Details(ctx context.Context, ids []string) ([]progressive.Record, error) {
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	out, err := getJSON[recordList](ctx, c, detailsPath, q)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Page loads one page of the full catalog listing.
func (c *Client) Page(ctx context.Context, page, size int) (adaptive.Page[progressive.Record], error) {
	q := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(size)},
	}
	out, err := getJSON[pageResponse](ctx, c, listPath, q)
	if err != nil {
		return adaptive.Page[progressive.Record]{}, err
	}
	return adaptive.Page[progressive.Record]{
		Items:   out.Data,
		HasNext: out.Pagination.HasNextPage,
		Total:   out.Pagination.Total,
	}, nil
}

// All loads the whole catalog listing in one request.
func (c *Client) All(ctx context.Context) ([]progressive.Record, error) {
	out, err := getJSON[recordList](ctx, c, listPath, url.Values{"all": {"true"}})
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

type recordList struct {
	Data []progressive.Record `json:"data"`
}

type pageResponse struct {
	Data       []progressive.Record `json:"data"`
	Pagination struct {
		HasNextPage bool `json:"hasNextPage"`
		Total       int  `json:"total"`
	} `json:"pagination"`
}

// getJSON decodes every attempt into a fresh T, so a body that failed half
// way never leaks into the result of a retry.
func getJSON[T any](ctx context.Context, c *Client, path string, q url.Values) (T, error) {
	var out T
	err := c.get(ctx, path, q, func(target string) error {
		var v T
		if err := c.do(ctx, target, &v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, attempt func(target string) error) error {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()
	target := u.String()

	exp := backoff.NewExponentialBackOff()
	if c.cfg.RetryInterval > 0 {
		exp.InitialInterval = c.cfg.RetryInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, attempt(target)
		})
		if err == nil {
			return struct{}{}, nil
		}

		var se *StatusError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return struct{}{}, backoff.Permanent(err)
		case errors.As(err, &se) && !se.Temporary():
			return struct{}{}, backoff.Permanent(err)
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Debug("retrying catalog request",
				zap.String("url", target),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	return err
}

func (c *Client) do(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: target}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

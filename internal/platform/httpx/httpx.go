// Package httpx is the shared outbound HTTP wrapper. Every call to an
// external API goes through it: per-call timeout, bounded retries for
// transient failures and a circuit breaker per upstream, so one flaky
// dependency cannot stall the worker pool.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/stima/stima/internal/platform/metrics"
)

// Response is a fully-read HTTP response. Statuses below 500 are returned
// to the caller to interpret; 5xx and transport errors are retried and
// surface as errors.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client wraps one upstream API.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	// Attempts is the total number of tries per call (1 initial + retries).
	Attempts uint
	// RetryDelay seeds the exponential backoff between tries.
	RetryDelay time.Duration
}

// NewClient creates a client for the named upstream. The breaker opens
// after five consecutive failures and probes again after thirty seconds.
func NewClient(name string, timeout time.Duration, log zerolog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		name:       name,
		http:       &http.Client{Timeout: timeout},
		breaker:    breaker,
		log:        log.With().Str("component", "httpx").Str("upstream", name).Logger(),
		Attempts:   4,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Do issues one HTTP call. The request is rebuilt per attempt so retries
// never reuse a consumed body reader.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var resp *Response
	err := retry.Do(
		func() error {
			result, err := c.breaker.Execute(func() (interface{}, error) {
				return c.once(ctx, method, url, header, body)
			})
			if err != nil {
				return err
			}
			resp = result.(*Response)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.Delay(c.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn().Uint("attempt", n+1).Err(err).Str("url", url).Msg("retrying upstream call")
		}),
	)
	if err != nil {
		metrics.ExternalRequests.WithLabelValues(c.name, "error").Inc()
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	metrics.ExternalRequests.WithLabelValues(c.name, "ok").Inc()
	return resp, nil
}

// Get is Do without a body.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, header, nil)
}

func (c *Client) once(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to build request: %w", err))
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &transientError{cause: err}
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &transientError{cause: fmt.Errorf("failed to read response body: %w", err)}
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, &transientError{cause: fmt.Errorf("upstream returned %s", httpResp.Status)}
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}

// transientError marks failures worth another attempt.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }
func (e *transientError) Unwrap() error { return e.cause }

func isTransient(err error) bool {
	// Give up immediately when the context is done or the breaker opened;
	// backing off inside an open breaker only wastes the task's time.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var transient *transientError
	return errors.As(err, &transient)
}

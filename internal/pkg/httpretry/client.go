// Package httpretry wraps an HTTP client with bounded retries for outbound
// provider calls. Transient transport errors and 429/5xx responses are
// retried with jittered exponential backoff; client errors come back
// untouched so the caller can classify them.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/member-messaging/internal/pkg/logger"
)

// HTTPDoer executes a single HTTP request. Satisfied by *http.Client and
// *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries a request up to maxRetries times beyond the first
// attempt. The last response, retryable or not, is always returned to the
// caller with its body intact.
type RetryClient struct {
	inner      HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps the given client. A nil client gets a 30s-timeout
// default; maxRetries <= 0 means 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		inner:      client,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// Do executes the request, retrying transport errors and retryable statuses.
// Requests with a body must carry GetBody (http.NewRequest sets it for the
// common body types) so the body can be replayed.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind request body: %w", err)
				}
				req.Body = body
			}
			if err := rc.wait(req, attempt); err != nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, err
			}
		}

		resp, err := rc.inner.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			if attempt == rc.maxRetries {
				return nil, lastErr
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain so the connection can be reused for the retry.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
	}
}

func (rc *RetryClient) wait(req *http.Request, attempt int) error {
	delay := rc.delay(attempt)
	logger.Debug("retrying request",
		"attempt", attempt, "max", rc.maxRetries,
		"method", req.Method, "host", req.URL.Host, "delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}

// delay computes full-jitter exponential backoff with a 100ms floor.
func (rc *RetryClient) delay(attempt int) time.Duration {
	d := rc.baseDelay << uint(attempt-1)
	if d > rc.maxDelay || d <= 0 {
		d = rc.maxDelay
	}
	d = time.Duration(rand.Float64() * float64(d))
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

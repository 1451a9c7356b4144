package blob

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// HTTPFetcher downloads URL sources. Network errors, 5xx and 429 responses are retried with
// exponential backoff; other non-2xx responses fail immediately.
type HTTPFetcher struct {
	client          *http.Client
	retries         int
	maxBytes        int64
	initialInterval time.Duration
	logger          *zap.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) FetcherOption {
	return func(f *HTTPFetcher) { f.retries = n }
}

// WithMaxBytes caps the response body size.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *HTTPFetcher) { f.maxBytes = n }
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) { f.initialInterval = d }
}

// WithFetchLogger sets a logger for retry diagnostics.
func WithFetchLogger(l *zap.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// WithHTTPClient replaces the underlying client. Its Timeout is left as is.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// NewHTTPFetcher creates a fetcher whose single attempts are bounded by timeout.
func NewHTTPFetcher(timeout time.Duration, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:          &http.Client{Timeout: timeout},
		retries:         3,
		initialInterval: 200 * time.Millisecond,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.url, e.status)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Fetch downloads url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialInterval
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	retries := f.retries
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	var data []byte
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			f.logger.Debug("fetch attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &statusError{url: url, status: resp.StatusCode}
			if retryableStatus(resp.StatusCode) {
				f.logger.Debug("fetch attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
				return serr
			}
			return backoff.Permanent(serr)
		}

		body, err := readLimited(resp.Body, f.maxBytes)
		if err != nil {
			return backoff.Permanent(err)
		}
		data = body
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)); err != nil {
		return nil, err
	}
	return data, nil
}

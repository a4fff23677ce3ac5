// Package asset downloads remote inputs, caches shared background clips and
// resolves bundled overlay images.
package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Static errors for asset operations.
var (
	// ErrUnavailable is returned when an asset cannot be retrieved.
	ErrUnavailable = errors.New("asset: unavailable")
	// ErrUnsupportedScheme is returned for URLs that are neither http(s) nor file.
	ErrUnsupportedScheme = errors.New("asset: unsupported URL scheme")
	// ErrLocalSourceDenied is returned for file:// URLs and plain paths when
	// local sources are not enabled.
	ErrLocalSourceDenied = errors.New("asset: local sources are disabled")
)

// Downloader retrieves a URL into a local file.
type Downloader interface {
	Fetch(ctx context.Context, rawURL, dest string) error
}

// Fetcher downloads assets over HTTP with retries. file:// URLs and plain
// paths are copied from the local filesystem only when WithLocalSources
// enables them.
type Fetcher struct {
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	allowLocal  bool
	logger      *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.baseBackoff = d
	}
}

// WithLocalSources allows file:// URLs and plain paths.
func WithLocalSources(allow bool) FetcherOption {
	return func(f *Fetcher) {
		f.allowLocal = allow
	}
}

// WithFetchLogger sets the fetcher logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a Fetcher with a 2 minute per-request timeout, three
// retries, a one second base backoff and local sources disabled.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves rawURL into dest. Every failure wraps ErrUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: parse %q: %w", ErrUnavailable, rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.downloadWithRetry(ctx, rawURL, dest)
	case "file", "":
		if !f.allowLocal {
			return fmt.Errorf("%w: %w", ErrUnavailable, ErrLocalSourceDenied)
		}
		if u.Scheme == "file" {
			return copyLocal(u.Path, dest)
		}
		return copyLocal(rawURL, dest)
	default:
		return fmt.Errorf("%w: %w %q", ErrUnavailable, ErrUnsupportedScheme, u.Scheme)
	}
}

// downloadWithRetry performs the download with exponential backoff retry.
func (f *Fetcher) downloadWithRetry(ctx context.Context, rawURL, dest string) error {
	var lastErr error
	backoff := f.baseBackoff

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			f.logger.Warn("retrying asset download",
				slog.String("url", redact(rawURL)),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: context cancelled: %w", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := f.download(ctx, rawURL, dest)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		lastErr = err
	}

	return fmt.Errorf("%w: max retries exceeded: %w", ErrUnavailable, lastErr)
}

// download performs a single GET into dest.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("asset: create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("asset: request cancelled: %w", ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("asset: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("asset: server error %d for %s", resp.StatusCode, redact(rawURL))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("asset: rate limited by %s", redact(rawURL))}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("asset: download %s failed with status %d", redact(rawURL), resp.StatusCode)
	}

	out, err := os.Create(dest) // #nosec G304 - dest is inside a job workspace or the cache
	if err != nil {
		return fmt.Errorf("asset: create output file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return &retryableError{err: fmt.Errorf("asset: copy download data: %w", err)}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("asset: close output file: %w", err)
	}
	return nil
}

func copyLocal(src, dest string) error {
	in, err := os.Open(src) // #nosec G304 - local sources are only used in development
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrUnavailable, src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest) // #nosec G304 - dest is inside a job workspace or the cache
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrUnavailable, dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: copy %s: %w", ErrUnavailable, src, err)
	}
	return out.Close()
}

// redact drops credentials and query strings, which may carry signatures.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

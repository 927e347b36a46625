package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/filingsearch/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFetchAttempts = 3
	MaxPDFBytes          = 200 << 20
)

// FetcherConfig controls downloads from the regulator's website.
type FetcherConfig struct {
	RatePerSecond float64
	Timeout       time.Duration
	Attempts      int
	UserAgent     string
}

// Fetcher downloads filing PDFs. Requests are throttled by a shared limiter
// and transient failures (network errors, 5xx, 429) are retried.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	attempts  uint64
	initial   time.Duration
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultFetchAttempts
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "filingsearch/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(limit, 1),
		attempts:  uint64(cfg.Attempts),
		initial:   time.Second,
		userAgent: cfg.UserAgent,
		maxBytes:  MaxPDFBytes,
		logger:    logger,
	}
}

// readPDF reads at most limit bytes. A longer body is an ErrPDFTooLarge
// rather than a truncated document.
func readPDF(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, domain.Wrap(domain.ErrPDFTooLarge, fmt.Errorf("more than %d bytes", limit))
	}
	return b, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// Fetch downloads url, upgrading plain http to https first.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = domain.NormalizeSourceURL(url)

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := f.get(ctx, url)
		if err == nil {
			body = b
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		if errors.Is(err, domain.ErrPDFTooLarge) {
			return backoff.Permanent(err)
		}
		f.logger.Warn("fetch.retry", "url", url, "attempt", attempt, "error", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initial
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, f.attempts-1), ctx))
	if err == nil {
		return body, nil
	}

	var se *statusError
	switch {
	case errors.As(err, &se) && se.code == http.StatusNotFound:
		return nil, domain.Wrap(domain.ErrSourceNotFound, fmt.Errorf("%s: %w", url, err))
	case errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests:
		return nil, fmt.Errorf("download %s: %w", url, err)
	case errors.Is(err, domain.ErrPDFTooLarge):
		return nil, fmt.Errorf("download %s: %w", url, err)
	case ctx.Err() != nil:
		return nil, err
	default:
		return nil, domain.Wrap(domain.ErrSourceUnavailable, fmt.Errorf("download %s after %d attempts: %w", url, attempt, err))
	}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode}
	}
	return readPDF(resp.Body, f.maxBytes)
}

package rxpdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/carebridge/pkg/circuitbreaker"
)

// DefaultFetchTimeout bounds a single attachment download.
const DefaultFetchTimeout = 15 * time.Second

// DefaultMaxAttachmentBytes caps a single attachment download.
const DefaultMaxAttachmentBytes = 25 << 20

// Fetcher downloads one attachment.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FetchFailure records an attachment that could not be fetched or decoded.
// It never aborts assembly.
type FetchFailure struct {
	URL string
	Err error
}

func (f *FetchFailure) Error() string {
	return fmt.Sprintf("attachment %s: %v", f.URL, f.Err)
}

func (f *FetchFailure) Unwrap() error { return f.Err }

// ErrTooLarge is returned for attachments over the size limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// StatusError is a non-2xx response from an attachment host.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// HTTPFetcher fetches attachments over HTTP with one circuit breaker per
// host, so a dead host fails fast for the rest of its attachments.
type HTTPFetcher struct {
	client   *http.Client
	breakers *circuitbreaker.Manager
	maxBytes int64
	logger   *zap.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client uses http.DefaultClient and
// a nil manager builds breakers from circuitbreaker.DefaultConfig.
func NewHTTPFetcher(client *http.Client, breakers *circuitbreaker.Manager, maxBytes int64, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(circuitbreaker.DefaultConfig("attachments"), logger)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	return &HTTPFetcher{client: client, breakers: breakers, maxBytes: maxBytes, logger: logger}
}

// Fetch downloads ref.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid attachment url %q", ref)
	}
	cb, err := f.breakers.Get(u.Host)
	if err != nil {
		return nil, err
	}
	return circuitbreaker.Call(ctx, cb, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > f.maxBytes {
			return nil, ErrTooLarge
		}
		return body, nil
	})
}

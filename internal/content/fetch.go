package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/config"
)

// Fetcher downloads a remote media reference.
type Fetcher interface {
	Get(ctx context.Context, uri string) (data []byte, contentType string, err error)
}

// HTTPFetcher retries transient failures (network errors, 5xx, 429) with
// exponential backoff. Other non-2xx answers fail at once.
type HTTPFetcher struct {
	client   *http.Client
	attempts uint
	initial  time.Duration
	maxBytes int64
}

func NewHTTPFetcher(cfg config.MediaConfig) *HTTPFetcher {
	attempts := cfg.FetchAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		attempts: uint(attempts),
		initial:  cfg.FetchBackoff,
		maxBytes: cfg.MaxBytes,
	}
}

type fetched struct {
	data        []byte
	contentType string
}

func (f *HTTPFetcher) Get(ctx context.Context, uri string) ([]byte, string, error) {
	op := func() (fetched, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return fetched{}, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "postscry/1.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return fetched{}, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fetched{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return fetched{}, backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		reader := io.Reader(resp.Body)
		if f.maxBytes > 0 {
			reader = io.LimitReader(resp.Body, f.maxBytes+1)
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return fetched{}, fmt.Errorf("reading body: %w", err)
		}
		if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
			return fetched{}, backoff.Permanent(fmt.Errorf("body exceeds %d bytes", f.maxBytes))
		}
		return fetched{data: data, contentType: resp.Header.Get("Content-Type")}, nil
	}

	b := backoff.NewExponentialBackOff()
	if f.initial > 0 {
		b.InitialInterval = f.initial
	}
	res, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(f.attempts))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindMediaFetch, err, "fetch %s", uri)
	}
	return res.data, res.contentType, nil
}

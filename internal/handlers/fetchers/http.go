// Package fetchers implements the fetcher handlers: units that turn a
// source's fetcher_options into the raw text a parser consumes.
package fetchers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"go.feedmesh.dev/internal/handler"
)

const (
	defaultUserAgent = "feedmesh/1.0 (+https://go.feedmesh.dev)"
	fetchTimeout     = 30 * time.Second
	maxRetries       = 2
)

// retryBackoff is a var, not a const, solely so tests can shrink it; the
// shipped value is always 3s.
var retryBackoff = 3 * time.Second

// HTTPOptions configures the http fetcher. Encoding, when set, overrides
// whatever charset the response declares (the source system's own
// res.encoding override hook).
type HTTPOptions struct {
	URL      string `mapstructure:"url"`
	Encoding string `mapstructure:"encoding"`
}

func (o *HTTPOptions) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// httpFetcher is stateless: every call re-reads its options.
type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Call(ctx context.Context, callOptions handler.Options, _ any) (any, error) {
	opts, ok := callOptions.(*HTTPOptions)
	if !ok {
		return nil, fmt.Errorf("fetchers/http: unexpected options type %T", callOptions)
	}

	retriesLeft := maxRetries
	for {
		text, err := f.fetchOnce(ctx, opts.URL, opts.Encoding)
		if err == nil {
			return text, nil
		}
		if retriesLeft == 0 {
			slog.Warn("fetch failed, no retries left", "url", opts.URL, "error", err)
			return "", err
		}
		slog.Warn("fetch failed, retrying", "url", opts.URL, "error", err, "retries_left", retriesLeft)
		retriesLeft--

		timer := time.NewTimer(retryBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}

func (f *httpFetcher) fetchOnce(ctx context.Context, url, encodingOverride string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if encodingOverride != "" {
		enc, err := htmlindex.Get(encodingOverride)
		if err != nil {
			return "", fmt.Errorf("unknown encoding %q: %w", encodingOverride, err)
		}
		reader = transform.NewReader(resp.Body, enc.NewDecoder())
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading body of %s: %w", url, err)
	}
	return string(body), nil
}

func init() {
	handler.Register(handler.Registration{
		Kind: handler.KindFetcher,
		Name: "http",
		NewFunc: func() handler.Handler {
			return &httpFetcher{client: &http.Client{Timeout: fetchTimeout}}
		},
		NewCallOptions: func() handler.Options { return &HTTPOptions{} },
	})
}

package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/meeting-ingest/internal/resilience"
)

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// HTTPOptions configures an HTTPFetcher. Zero values get defaults.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	MaxBodyBytes int64
	// RateLimiters pins fixed per-host rates, keyed by URL host.
	RateLimiters map[string]*rate.Limiter
}

// HTTPFetcher is the PageFetcher used in production. It sends browser-like
// headers, paces each host, retries 408, 429 and 5xx with backoff, and
// returns bodies as valid UTF-8.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*AdaptiveLimiter
	fallback *AdaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	limiters := DefaultAdaptiveLimiters()
	for host, lim := range opts.RateLimiters {
		limiters[host] = fixedLimiter(lim)
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
				// gzip is requested explicitly so readBody sees Content-Encoding.
				DisableCompression: true,
			},
		},
		opts:     opts,
		limiters: limiters,
		fallback: fixedLimiter(rate.NewLimiter(20, 20)),
	}
}

// BrowserHeaders returns the headers sent with every fetch.
func (f *HTTPFetcher) BrowserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", f.opts.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip")
	h.Set("Cache-Control", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// Fetch implements PageFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, headers http.Header) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "fetch: create request")
	}
	req.Header = f.BrowserHeaders()
	for k, vs := range headers {
		req.Header[http.CanonicalHeaderKey(k)] = vs
	}

	resp, err := f.send(ctx, req)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := f.readBody(resp)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: read body from %s", rawURL)
	}
	return NormalizeUTF8(body), nil
}

// send performs req, retrying transport errors and retryable statuses.
// The returned response has a status that is not worth retrying.
func (f *HTTPFetcher) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL.Host)
	target := req.URL.String()

	cfg := resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxRetries,
		InitialBackoff: f.opts.BackoffBase,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
		OnRetry: func(attempt int, err error) {
			zap.L().Warn("fetch: retrying", zap.String("url", target), zap.Int("attempt", attempt), zap.Error(err))
		},
	}

	var resp *http.Response
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		if err := lim.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}
		r, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrap(err, "request canceled")
			}
			return resilience.NewTransientError(err, 0)
		}
		if r.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		if resilience.RetryableStatus(r.StatusCode) {
			_ = r.Body.Close()
			return resilience.NewTransientError(eris.Errorf("http %d from %s", r.StatusCode, target), r.StatusCode)
		}
		lim.OnSuccess()
		resp = r
		return nil
	})
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, eris.Wrap(err, "all retries exhausted")
		}
		return nil, err
	}
	return resp, nil
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	return f.fallback
}

// readBody reads at most MaxBodyBytes, inflating gzip when the server says
// so. A body mislabelled as gzip is returned raw.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil || !isGzip(resp.Header.Get("Content-Encoding")) {
		return raw, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		zap.L().Debug("fetch: body labelled gzip is not gzip", zap.String("url", resp.Request.URL.String()), zap.Error(err))
		return raw, nil
	}
	defer gz.Close() //nolint:errcheck
	return io.ReadAll(io.LimitReader(gz, f.opts.MaxBodyBytes))
}

func isGzip(contentEncoding string) bool {
	for _, part := range strings.Split(contentEncoding, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "gzip", "x-gzip":
			return true
		}
	}
	return false
}

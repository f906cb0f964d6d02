// Package fetch retrieves remote pages through a CORS-style relay
// (GET {relay}{urlencode(target)}) with a hard per-call timeout. It never
// retries on its own; the initial load and search apply their own policies.
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brogergvhs/coverd/internal/metrics"
)

type Options struct {
	RelayBase string
	Timeout   time.Duration
	Metrics   *metrics.Metrics
	Log       interface {
		Debugf(string, ...any)
	}
}

type Fetcher struct {
	client  *http.Client
	relay   string
	timeout time.Duration
	metrics *metrics.Metrics
	log     interface{ Debugf(string, ...any) }
}

func New(c *http.Client, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &Fetcher{
		client:  c,
		relay:   opts.RelayBase,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		log:     opts.Log,
	}
}

// EncodeComponent escapes s the way encodeURIComponent does for the
// characters that matter in a relay query string.
func EncodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// RelayURL is the address actually requested for target.
func (f *Fetcher) RelayURL(target string) string {
	if f.relay == "" {
		return target
	}
	return f.relay + EncodeComponent(target)
}

// Fetch returns the body of target fetched through the relay.
func (f *Fetcher) Fetch(ctx context.Context, target string) (string, error) {
	body, err := f.fetch(ctx, target)
	if f.metrics != nil {
		if err != nil {
			f.metrics.IncFetch(KindOf(err))
		} else {
			f.metrics.IncFetch("ok")
		}
	}

	return body, err
}

func (f *Fetcher) fetch(ctx context.Context, target string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodGet, f.RelayURL(target), nil)
	if err != nil {
		return "", &Error{Kind: KindNetwork, URL: target, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	if f.log != nil {
		f.log.Debugf("Fetching %s via relay\n", target)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", f.classify(ctx, tctx, target, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && f.log != nil {
			f.log.Debugf("Warning: failed to close response body for %s: %v\n", target, cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Kind: KindHTTPStatus, URL: target, Status: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", f.classify(ctx, tctx, target, err)
	}

	return string(b), nil
}

func (f *Fetcher) classify(parent, tctx context.Context, target string, err error) error {
	// caller cancellation is not a fetch failure
	if perr := parent.Err(); perr != nil {
		return perr
	}

	var ne net.Error
	if errors.Is(tctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindTimeout, URL: target, Err: err}
	}

	return &Error{Kind: KindNetwork, URL: target, Err: err}
}

// Probe reports whether target still resolves. A 4xx answer is a definite
// "gone"; timeouts, network errors and 5xx come back as errors so callers
// can tell a dead URL from a flaky relay.
func (f *Fetcher) Probe(ctx context.Context, target string) (bool, error) {
	status, err := f.probe(ctx, http.MethodHead, target)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = f.probe(ctx, http.MethodGet, target)
	}
	if err != nil {
		return false, err
	}

	switch {
	case status >= 200 && status < 400:
		return true, nil
	case status >= 400 && status < 500:
		return false, nil
	default:
		return false, &Error{Kind: KindHTTPStatus, URL: target, Status: status}
	}
}

func (f *Fetcher) probe(ctx context.Context, method, target string) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, method, f.RelayURL(target), nil)
	if err != nil {
		return 0, &Error{Kind: KindNetwork, URL: target, Err: err}
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, f.classify(ctx, tctx, target, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	return resp.StatusCode, nil
}

// Package clerk discovers and downloads periodic transaction reports from
// the House Clerk financial disclosure site.
package clerk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// DefaultBaseURL is the public clerk site.
const DefaultBaseURL = "https://disclosures-clerk.house.gov"

// maxBody bounds any single download.
const maxBody = 256 << 20

// Options configures the HTTP side shared by Discoverer and Retriever.
type Options struct {
	BaseURL    string
	UserAgent  string
	Throttle   time.Duration // minimum spacing between requests
	MaxRetries int           // attempts per request, including the first
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.UserAgent == "" {
		o.UserAgent = "PTRWatch-Worker/1.0"
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// client performs throttled GETs with retry on transient failures.
type client struct {
	opts    Options
	limiter *rate.Limiter
}

func newClient(opts Options) *client {
	opts.defaults()
	limit := rate.Inf
	if opts.Throttle > 0 {
		limit = rate.Every(opts.Throttle)
	}
	return &client{opts: opts, limiter: rate.NewLimiter(limit, 1)}
}

// response is a fully read HTTP body.
type response struct {
	body        []byte
	contentType string
}

// get fetches url. check, when set, validates a 200 body; its error is
// permanent.
func (c *client) get(ctx context.Context, url, accept string, check func(response) error) (response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.BaseDelay
	b.MaxInterval = c.opts.MaxDelay

	attempt := 0
	op := func() (response, error) {
		attempt++
		resp, err := c.once(ctx, url, accept)
		if err != nil {
			if internalerr.IsPermanent(err) {
				return response{}, backoff.Permanent(err)
			}
			c.opts.Logger.Debug("request failed", "url", url, "attempt", attempt, "error", err)
			return response{}, err
		}
		if check != nil {
			if err := check(resp); err != nil {
				return response{}, backoff.Permanent(internalerr.Permanent("fetch", err))
			}
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MaxRetries)),
	)
	if err != nil {
		return response{}, fmt.Errorf("GET %s after %d attempt(s): %w", url, attempt, err)
	}
	return resp, nil
}

// once performs a single throttled request and classifies the outcome.
func (c *client) once(ctx context.Context, url, accept string) (response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return response{}, internalerr.Permanent("fetch", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	res, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, ctx.Err()
		}
		return response{}, internalerr.Transient("fetch", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, res.Body)
		return response{}, internalerr.Permanent("fetch", fmt.Errorf("%s: %w", url, internalerr.ErrNotFound))
	case res.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, res.Body)
		return response{}, internalerr.Transient("fetch", fmt.Errorf("%s: HTTP %d", url, res.StatusCode))
	case res.StatusCode >= 400:
		_, _ = io.Copy(io.Discard, res.Body)
		return response{}, internalerr.Permanent("fetch", fmt.Errorf("%s: HTTP %d", url, res.StatusCode))
	case res.StatusCode != http.StatusOK:
		return response{}, internalerr.Transient("fetch", fmt.Errorf("%s: unexpected HTTP %d", url, res.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return response{}, err
		}
		return response{}, internalerr.Transient("fetch", fmt.Errorf("read body: %w", err))
	}
	return response{body: body, contentType: res.Header.Get("Content-Type")}, nil
}

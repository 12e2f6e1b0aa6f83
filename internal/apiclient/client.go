// Package apiclient fetches the help-center content tree over HTTP with pagination,
// rate limiting and retries.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hcharvest/internal/config"
	"hcharvest/internal/logger"
	"hcharvest/pkg/utils"
)

const (
	maxAPIBodyBytes   = 10 * 1024 * 1024
	maxImageBodyBytes = 50 * 1024 * 1024
	maxErrorBodyBytes = 512
	maxServerWait     = 5 * time.Minute
)

// Client talks to the help-center API. It is safe for concurrent use; every
// API request draws from one shared rate limiter.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
	headers    http.Header
	baseURL    *url.URL
	retry      config.RetryPolicy
	perPage    int

	mu        sync.Mutex
	pausedTil time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLimiter replaces the shared rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient creates a client for the configured API.
func NewClient(api config.APIConfig, retry config.RetryPolicy, log *logger.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(api.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	if log == nil {
		log = logger.Discard()
	}

	burst := api.Burst
	if burst < 1 {
		burst = 1
	}

	perPage := api.PerPage
	if perPage < 1 {
		perPage = 50
	}

	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	helper := utils.NewHTTPHelper()
	c := &Client{
		httpClient: &http.Client{Timeout: retry.GetTimeout()},
		limiter:    rate.NewLimiter(rate.Limit(api.RequestsPerSecond), burst),
		logger:     log.With("component", "apiclient"),
		headers: helper.BuildHeaders(map[string]string{
			"Authorization":    "Bearer " + api.Token,
			"Intercom-Version": api.Version,
		}),
		baseURL: base,
		retry:   retry,
		perPage: perPage,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Article fetches the detail of a single article.
func (c *Client) Article(ctx context.Context, id string) (ArticlePayload, error) {
	var out ArticlePayload

	err := c.getJSON(ctx, c.endpoint("articles/"+url.PathEscape(id), nil), &out)

	return out, err
}

// Download is a fetched binary resource.
type Download struct {
	ContentType string
	Data        []byte
}

// Download fetches an arbitrary URL (images). It uses the retry policy but neither
// the bearer token nor the API rate limiter, since images live on third-party hosts.
func (c *Client) Download(ctx context.Context, rawURL string) (Download, error) {
	resp, err := c.fetch(ctx, rawURL, false)
	if err != nil {
		return Download{}, err
	}

	return Download{ContentType: resp.contentType, Data: resp.body}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")

	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	return u.String()
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.fetch(ctx, rawURL, true)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.body, out); err != nil {
		return &DecodeError{URL: rawURL, Err: err}
	}

	return nil
}

type response struct {
	contentType string
	body        []byte
}

// fetch performs a GET with retries. api selects authentication and rate limiting.
func (c *Client) fetch(ctx context.Context, rawURL string, api bool) (*response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if api {
			if err := c.waitTurn(ctx); err != nil {
				return nil, err
			}
		}

		resp, wait, err := c.once(ctx, rawURL, api)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err

		if !isTransient(err) {
			return nil, err
		}

		if attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.backoff(attempt + 1)
		if wait > 0 {
			delay = wait
			if api {
				c.pause(wait)
			}
		}

		c.logger.Warn("Request failed, retrying",
			"url", rawURL,
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &TransientFetchError{URL: rawURL, Attempts: c.retry.MaxAttempts, Err: lastErr}
}

// once performs a single request. wait is the server-requested delay, if any.
func (c *Client) once(ctx context.Context, rawURL string, api bool) (*response, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.retry.GetTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if (req.URL.Scheme != "http" && req.URL.Scheme != "https") || req.URL.Host == "" {
		return nil, 0, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidRequest, rawURL)
	}

	if api {
		req.Header = c.headers.Clone()
	} else {
		req.Header.Set("User-Agent", utils.UserAgent)
		req.Header.Set("Accept", "image/*,*/*;q=0.8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		statusErr := &StatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}

		var wait time.Duration
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			wait = retryAfter(resp.Header, time.Now())
		}

		return nil, wait, statusErr
	}

	limit := int64(maxAPIBodyBytes)
	if !api {
		limit = maxImageBodyBytes
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	return &response{
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, 0, nil
}

// waitTurn blocks until both the shared limiter and any server-imposed pause allow a request.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	until := c.pausedTil
	c.mu.Unlock()

	if d := time.Until(until); d > 0 {
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}

	return c.limiter.Wait(ctx)
}

// pause holds back every API request for d, so one 429 slows down all workers.
func (c *Client) pause(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if until := time.Now().Add(d); until.After(c.pausedTil) {
		c.pausedTil = until
	}
}

// backoff returns the policy delay for attempt with jitter in [d/2, d].
func (c *Client) backoff(attempt int) time.Duration {
	d := c.retry.GetRetryDelay(attempt)
	if d <= 1 {
		return d
	}

	half := d / 2

	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func isTransient(err error) bool {
	if errors.Is(err, ErrInvalidRequest) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	// Transport failures and timeouts.
	return true
}

// retryAfter reads Retry-After (seconds or HTTP date) or X-RateLimit-Reset (epoch seconds).
func retryAfter(h http.Header, now time.Time) time.Duration {
	var wait time.Duration

	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			wait = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			wait = t.Sub(now)
		}
	} else if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			wait = time.Unix(epoch, 0).Sub(now)
		}
	}

	if wait < 0 {
		return 0
	}

	return min(wait, maxServerWait)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

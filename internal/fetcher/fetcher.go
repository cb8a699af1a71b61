// Package fetcher implements HTTP retrieval using gocolly with retry,
// proxy support, and a politeness rate limit.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyanglab/noticebot/internal/board"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	Proxy          string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	RequestsPerSec float64
}

// Client fetches single URLs. It applies the configured proxy, a request
// timeout, and retries transient failures with exponential backoff. It holds
// no mutable shared state beyond the rate limiter.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	retry         *ExponentialRetryPolicy
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c.SetRequestTimeout(cfg.Timeout)

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     60 * time.Second,
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	c.WithTransport(transport)

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	return &Client{
		cfg:           cfg,
		baseCollector: c,
		retry:         NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		limiter:       rate.NewLimiter(limit, 1),
		logger:        logger,
	}, nil
}

// Fetch retrieves a URL with a GET request and returns the raw body.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, rawURL, nil)
}

// FetchForm retrieves a URL with a POST form request and returns the raw
// body. Used for AJAX listing endpoints.
func (c *Client) FetchForm(ctx context.Context, rawURL string, form map[string]string) ([]byte, error) {
	if form == nil {
		form = map[string]string{}
	}
	return c.do(ctx, rawURL, form)
}

func (c *Client) do(ctx context.Context, rawURL string, form map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		body, err := c.once(ctx, rawURL, form)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt+1) {
			break
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("fetch retry",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// once executes a single request via a cloned collector.
func (c *Client) once(ctx context.Context, rawURL string, form map[string]string) ([]byte, error) {
	collector := c.baseCollector.Clone()

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		if form != nil {
			done <- collector.Post(rawURL, form)
		} else {
			done <- collector.Visit(rawURL)
		}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil || fetchErr != nil {
			if err == nil {
				err = fetchErr
			}
			if status >= 400 {
				return nil, &board.FetchError{URL: rawURL, StatusCode: status}
			}
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
	if status >= 400 {
		return nil, &board.FetchError{URL: rawURL, StatusCode: status}
	}
	return body, nil
}

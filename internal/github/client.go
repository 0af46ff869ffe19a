// Package github implements the GitHub Issues sync provider
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v59/github"
	"github.com/tildaslashalef/tether/internal/config"
	"github.com/tildaslashalef/tether/internal/loggy"
	"github.com/tildaslashalef/tether/internal/sync"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const defaultAPIURL = "https://api.github.com"

// Client wraps the GitHub API client with a rate limiter and retries
type Client struct {
	client     *github.Client
	config     *config.GitHubConfig
	limiter    *rate.Limiter
	logger     *loggy.Logger
	maxRetries int
	newBackOff func() backoff.BackOff
}

// NewClient creates a GitHub API client from cfg
func NewClient(cfg *config.GitHubConfig, logger *loggy.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("GitHub token is not configured; set TETHER_GITHUB_TOKEN")
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = timeout

	client := github.NewClient(tc)
	if cfg.APIURL != "" && strings.TrimSuffix(cfg.APIURL, "/") != defaultAPIURL {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.APIURL, cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub Enterprise URL %s: %w", cfg.APIURL, err)
		}
	}

	return newClient(client, cfg, logger), nil
}

// newClient wraps an already configured go-github client
func newClient(client *github.Client, cfg *config.GitHubConfig, logger *loggy.Logger) *Client {
	return &Client{
		client:     client,
		config:     cfg,
		limiter:    newLimiter(cfg.RequestsPerMinute, cfg.Burst),
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// newLimiter creates a rate limiter from requests per minute and burst
func newLimiter(rpm, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// do runs call under the rate limiter, retrying transport errors and 5xx responses
func (c *Client) do(ctx context.Context, op string, call func() (*github.Response, error)) error {
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := call()
		if err == nil {
			return nil
		}
		if !retryable(ctx, resp, err) {
			return backoff.Permanent(err)
		}

		c.logger.Debug("GitHub request failed, retrying", "op", op, "attempt", attempt, "error", err)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return toAdapterError(op, err)
	}
	return nil
}

func retryable(ctx context.Context, resp *github.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return false
	}

	if resp != nil && resp.Response != nil {
		return resp.StatusCode >= 500
	}

	var ghErr *github.ErrorResponse
	return !errors.As(err, &ghErr)
}

// toAdapterError maps go-github errors onto the provider error the engine classifies.
// 404 and 410 also match sync.ErrItemNotFound.
func toAdapterError(op string, err error) error {
	adapterErr := &sync.AdapterError{Provider: Provider, Err: err}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var ghErr *github.ErrorResponse
	var urlErr *url.Error
	switch {
	case errors.As(err, &rateErr):
		adapterErr.StatusCode = statusOf(rateErr.Response, http.StatusForbidden)
		adapterErr.Message = rateErr.Message
	case errors.As(err, &abuseErr):
		adapterErr.StatusCode = statusOf(abuseErr.Response, http.StatusForbidden)
		adapterErr.Message = abuseErr.Message
	case errors.As(err, &ghErr):
		adapterErr.StatusCode = statusOf(ghErr.Response, 0)
		adapterErr.Message = ghErr.Message
	case errors.As(err, &urlErr):
		adapterErr.Message = "request failed"
	default:
		return fmt.Errorf("%s: %w", op, err)
	}

	if adapterErr.Message == "" {
		adapterErr.Message = http.StatusText(adapterErr.StatusCode)
	}
	adapterErr.Message = op + ": " + adapterErr.Message
	if adapterErr.StatusCode == http.StatusNotFound || adapterErr.StatusCode == http.StatusGone {
		adapterErr.Err = errors.Join(sync.ErrItemNotFound, err)
	}
	return adapterErr
}

func statusOf(resp *http.Response, fallback int) int {
	if resp == nil {
		return fallback
	}
	return resp.StatusCode
}

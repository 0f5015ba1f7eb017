package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/circuitbreaker"
	"github.com/alvmarrod/trust-weaver/internal/crawler"
	"github.com/alvmarrod/trust-weaver/internal/retry"
	"github.com/alvmarrod/trust-weaver/internal/version"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// followsResponse is the body of GET {base}/follows/{identifier}
type followsResponse struct {
	Follows []string `json:"follows"`
}

// HTTPOptions configures one follow-list endpoint
type HTTPOptions struct {
	RequestTimeout time.Duration
	RPS            float64 // 0 disables rate limiting
	Retry          retry.Config
	Breaker        circuitbreaker.Config
	UserAgent      string
}

// StatusError is a non-2xx answer from an endpoint
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// HTTPSource fetches follow lists from one remote endpoint
type HTTPSource struct {
	baseURL string
	opts    HTTPOptions
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
}

// NewHTTPSource creates a source for baseURL, e.g. https://relay.example
func NewHTTPSource(baseURL string, opts HTTPOptions) (*HTTPSource, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid follow source URL %q", baseURL)
	}

	if opts.UserAgent == "" {
		opts.UserAgent = "trust-weaver/" + version.Version
	}
	if opts.Breaker.Name == "" {
		opts.Breaker.Name = parsed.Host
	}

	limit := rate.Inf
	burst := 1
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
		burst = int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
	}

	return &HTTPSource{
		baseURL: baseURL,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.NewCircuitBreaker(opts.Breaker),
	}, nil
}

// Name identifies the endpoint in logs and errors
func (s *HTTPSource) Name() string {
	return s.baseURL
}

// FetchFollows returns the follow list of identifier, retrying transient failures
func (s *HTTPSource) FetchFollows(ctx context.Context, identifier string) ([]string, error) {
	var follows []string

	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context, attempt int) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		err := s.breaker.Execute(ctx, func() error {
			var fetchErr error
			follows, fetchErr = s.fetchOnce(ctx, identifier)
			return fetchErr
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return retry.Permanent(err)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, &crawler.FetchError{Identifier: identifier, Source: s.baseURL, Err: err}
	}

	return follows, nil
}

// fetchOnce performs a single GET with a fresh collector bound to ctx
func (s *HTTPSource) fetchOnce(ctx context.Context, identifier string) ([]string, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.opts.UserAgent),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	if s.opts.RequestTimeout > 0 {
		c.SetRequestTimeout(s.opts.RequestTimeout)
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	var (
		body     []byte
		status   int
		visitErr error
	)

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	c.OnError(func(r *colly.Response, err error) {
		visitErr = err
		if r != nil {
			status = r.StatusCode
		}
	})

	target := s.baseURL + "/follows/" + url.PathEscape(identifier)
	if err := c.Visit(target); err != nil && visitErr == nil {
		visitErr = err
	}

	// Unknown accounts follow nobody
	if status == http.StatusNotFound {
		return []string{}, nil
	}
	if status != 0 && (status < 200 || status >= 300) {
		return nil, &StatusError{Code: status}
	}
	if visitErr != nil {
		return nil, fmt.Errorf("request failed: %w", visitErr)
	}

	var resp followsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode follow list: %w", err)
	}
	return resp.Follows, nil
}

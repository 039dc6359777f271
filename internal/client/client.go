package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/guestbridge/internal/infrastructure/tracing"
)

// ErrUnavailable wraps calls refused by the open circuit breaker
var ErrUnavailable = errors.New("controller unavailable")

// APIError is a non-2xx answer from the controller
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("controller returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the controller
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Options configures the client
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RateLimit    float64 // Requests per second, 0 for unlimited
	Logger       *zap.Logger
}

// DefaultOptions returns options suited to a CLI talking to a local controller
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// Client talks to the controller's REST API with rate limiting, retries
// and a circuit breaker
type Client struct {
	baseURL string
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	mu      sync.RWMutex
}

// New creates a client with DefaultOptions
func New(baseURL string) *Client {
	return NewWithOptions(baseURL, DefaultOptions())
}

// NewWithOptions creates a client for the controller at baseURL
func NewWithOptions(baseURL string, opts Options) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.Logger != nil {
		retryClient.Logger = leveledLogger{opts.Logger.Named("client").Sugar()}
	} else {
		retryClient.Logger = nil
	}

	restyClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient}).
		SetHeader("User-Agent", "guestbridge-client/1.0").
		SetHeader("Accept", "application/json")

	breaker := resilience.New("controller", resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	return &Client{
		baseURL: baseURL,
		resty:   restyClient,
		limiter: limiter,
		breaker: breaker,
	}
}

// BaseURL returns the controller address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetRateLimit configures rate limiting (requests per second)
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// do runs one API call. out may be nil when the body is not needed.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()

	if err := c.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	err := c.breaker.Execute(func() error {
		apiErr := &APIError{}
		headers := make(map[string]string, 2)
		tracing.InjectTraceContext(ctx, headers)
		req := c.resty.R().SetContext(ctx).SetError(apiErr).SetHeaders(headers)
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		if resp.IsError() {
			apiErr.Status = resp.StatusCode()
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode())
			}
			return apiErr
		}
		return nil
	})

	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// checkRetry retries transport failures and 5xx answers, except that a
// POST is only retried when it never reached the server
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// leveledLogger adapts zap to retryablehttp's logger interface
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

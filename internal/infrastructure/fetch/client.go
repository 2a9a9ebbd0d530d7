package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/resilience"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxBodySize caps a fetched document.
const DefaultMaxBodySize = 10 * 1024 * 1024

var (
	ErrBodyTooLarge = errors.New("fetch: response body too large")
	ErrInvalidURL   = errors.New("fetch: url must be absolute http or https")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

// Options configures a Client.
type Options struct {
	Timeout           time.Duration
	Retries           int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	UserAgent         string
	RequestsPerSecond float64 // 0 disables limiting
	MaxBodySize       int64
	Breaker           resilience.Settings
	Metrics           *monitoring.Metrics
	Logger            *zap.Logger
}

// DefaultOptions returns the options used by the server.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		Retries:      3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
		UserAgent:    "InflationLens/1.0",
		MaxBodySize:  DefaultMaxBodySize,
		Breaker: resilience.Settings{
			MaxRequests: 2,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
			},
		},
	}
}

// Client fetches documents and datasets over HTTP: resty on top of a
// retrying transport, with a client-side rate limit and one circuit
// breaker per host.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Set
	maxBody  int64
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// New creates a client. Zero fields in opts take DefaultOptions values,
// except Retries and RequestsPerSecond where zero is meaningful.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = def.RetryWaitMin
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = def.RetryWaitMax
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = def.MaxBodySize
	}
	if opts.Breaker.ReadyToTrip == nil {
		opts.Breaker = def.Breaker
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Breaker.IsFailure = isFailure

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveledLogger{opts.Logger.Named("retry")}

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/json,application/yaml;q=0.9,*/*;q=0.8").
		SetDoNotParseResponse(true)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		resty:    restyClient,
		limiter:  limiter,
		breakers: resilience.NewSet("fetch", opts.Breaker),
		maxBody:  opts.MaxBodySize,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

type response struct {
	body        []byte
	contentType string
	code        int
}

// Get fetches rawURL and returns its body and content type. When the
// server omits Content-Type it is sniffed from the body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", ErrInvalidURL
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	resp, err := resilience.Do(c.breakers.Get(u.Host), func() (response, error) {
		return c.do(ctx, rawURL)
	})
	c.metrics.RecordFetch(resp.code, err)

	if err != nil {
		c.logger.Warn("Fetch failed",
			zap.String("url", rawURL),
			zap.Int("status", resp.code),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, "", err
	}

	c.logger.Debug("Fetched",
		zap.String("url", rawURL),
		zap.Int("status", resp.code),
		zap.Int("bytes", len(resp.body)),
		zap.String("content_type", resp.contentType),
		zap.Duration("duration", time.Since(start)))
	return resp.body, resp.contentType, nil
}

func (c *Client) do(ctx context.Context, rawURL string) (response, error) {
	resp, err := c.resty.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	out := response{code: resp.StatusCode()}
	if out.code < 200 || out.code > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(raw, 64*1024))
		return out, &StatusError{URL: rawURL, Code: out.code}
	}

	body, err := io.ReadAll(io.LimitReader(raw, c.maxBody+1))
	if err != nil {
		return out, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(body)) > c.maxBody {
		return out, ErrBodyTooLarge
	}

	out.body = body
	out.contentType = resp.Header().Get("Content-Type")
	if out.contentType == "" {
		out.contentType = mimetype.Detect(body).String()
	}
	return out, nil
}

// BreakerStates returns the breaker state per host.
func (c *Client) BreakerStates() map[string]string {
	states := c.breakers.States()
	out := make(map[string]string, len(states))
	for host, s := range states {
		out[host] = s.String()
	}
	return out
}

// isFailure counts transport errors and 5xx responses against a host.
// Client errors and oversized bodies are the caller's problem.
func isFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	if errors.Is(err, ErrBodyTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l *zap.Logger
}

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.l.Sugar().Errorw(msg, kv...) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.l.Sugar().Debugw(msg, kv...) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.l.Sugar().Debugw(msg, kv...) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.l.Sugar().Warnw(msg, kv...) }

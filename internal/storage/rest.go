package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	maxErrorBody   = 64 << 10

	// DefaultUserAgent is sent when the caller does not configure one.
	DefaultUserAgent = "clipcloud/0.1"
)

// ErrorDecoder extracts the provider's error code and message from a non-2xx
// body. A non-nil sentinel overrides the status-based classification.
type ErrorDecoder func(status int, body []byte) (code, message string, sentinel error)

// RESTClient is a bearer-authenticated HTTP client with retry, exponential
// backoff and error classification. Provider packages wrap it with their
// base URL and error body format.
type RESTClient struct {
	provider        auth.Provider
	baseURL         string
	httpClient      *http.Client
	logger          *slog.Logger
	userAgent       string
	requestIDHeader string
	decodeError     ErrorDecoder

	// sleepFunc is called to wait between retries. Defaults to TimeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// RESTConfig configures a RESTClient.
type RESTConfig struct {
	Provider        auth.Provider
	BaseURL         string
	HTTPClient      *http.Client
	Logger          *slog.Logger
	UserAgent       string
	RequestIDHeader string
	DecodeError     ErrorDecoder
}

// NewRESTClient creates a client from cfg.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	c := &RESTClient{
		provider:        cfg.Provider,
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:      cfg.HTTPClient,
		logger:          cfg.Logger,
		userAgent:       cfg.UserAgent,
		requestIDHeader: cfg.RequestIDHeader,
		decodeError:     cfg.DecodeError,
		sleepFunc:       TimeSleep,
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}

	return c
}

// SetSleepFunc replaces the retry sleeper. Tests pass a no-op.
func (c *RESTClient) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	c.sleepFunc = fn
}

// BaseURL returns the configured base URL.
func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// Request describes one API call. Body is a factory so the request can be
// replayed on retry; nil means no body.
type Request struct {
	Method      string
	Path        string // appended to the base URL unless absolute
	Token       string
	Header      http.Header
	ContentType string
	Body        func() (io.ReadCloser, error)
	Length      int64 // Content-Length when known, else 0
}

// JSONBody returns a replayable body factory for v.
func JSONBody(v any) (func() (io.ReadCloser, error), error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding request body: %w", err)
	}

	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// Do executes req with retry. The caller closes the response body on success.
// Transport failures surviving all retries wrap ErrNetwork; HTTP failures
// return *APIError.
func (c *RESTClient) Do(ctx context.Context, req Request) (*http.Response, error) {
	url := req.Path
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + req.Path
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, url, req)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: request canceled: %w", c.provider, ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("provider", string(c.provider)),
					slog.String("method", req.Method),
					slog.String("path", req.Path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("%s: request canceled: %w", c.provider, sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("%w: %s %s %s failed after %d retries: %w",
				ErrNetwork, c.provider, req.Method, req.Path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("provider", string(c.provider)),
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if IsRetryableStatus(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("provider", string(c.provider)),
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("%s: request canceled: %w", c.provider, err)
			}

			attempt++

			continue
		}

		apiErr := c.apiError(resp, errBody)

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("provider", string(c.provider)),
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

func (c *RESTClient) apiError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   c.provider,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Err:        ClassifyStatus(resp.StatusCode),
	}

	if c.requestIDHeader != "" {
		apiErr.RequestID = resp.Header.Get(c.requestIDHeader)
	}

	if c.decodeError != nil {
		code, msg, sentinel := c.decodeError(resp.StatusCode, body)
		if code != "" {
			apiErr.Code = code
		}

		if msg != "" {
			apiErr.Message = msg
		}

		if sentinel != nil {
			apiErr.Err = sentinel
		}
	}

	if apiErr.Err == nil {
		apiErr.Err = ErrBadRequest
	}

	return apiErr
}

// doOnce executes a single HTTP request (no retry).
func (c *RESTClient) doOnce(ctx context.Context, url string, req Request) (*http.Response, error) {
	var body io.ReadCloser

	if req.Body != nil {
		b, err := req.Body()
		if err != nil {
			return nil, fmt.Errorf("opening request body: %w", err)
		}

		body = b
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		if body != nil {
			body.Close()
		}

		return nil, fmt.Errorf("creating request: %w", err)
	}

	if req.Length > 0 {
		httpReq.ContentLength = req.Length
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	return c.httpClient.Do(httpReq)
}

// DoJSON sends in (when non-nil) as JSON and decodes the response into out
// (when non-nil).
func (c *RESTClient) DoJSON(ctx context.Context, method, path, token string, in, out any) error {
	req := Request{Method: method, Path: path, Token: token}

	if in != nil {
		body, err := JSONBody(in)
		if err != nil {
			return err
		}

		req.Body = body
		req.ContentType = "application/json"
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return DecodeJSON(resp, out)
}

// DecodeJSON decodes a JSON response body into out, or drains it if out is nil.
func DecodeJSON(resp *http.Response, out any) error {
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("storage: decoding %s response: %w", resp.Request.URL.Path, err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response.
// A Retry-After header in seconds takes precedence.
func (c *RESTClient) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *RESTClient) calcBackoff(attempt int) time.Duration {
	return Backoff(baseBackoff, maxBackoff, attempt)
}

// Backoff computes base * 2^attempt capped at limit, with ±25% jitter.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	backoff := float64(base) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(limit) {
		backoff = float64(limit)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// TimeSleep waits for the given duration or until the context is canceled.
func TimeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

const (
	// DefaultTimeout bounds a single attempt, connection and body included
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyChars is how much of the response body is kept
	DefaultMaxBodyChars = 10000

	// DefaultHeaderPrefix names the reserved headers: X-Webhook-Signature, X-Webhook-Timestamp...
	DefaultHeaderPrefix = "X-Webhook"

	// TimestampFormat is ISO 8601 in UTC with millisecond precision
	TimestampFormat = "2006-01-02T15:04:05.000Z"
)

/* HTTPExecutor performs one signed POST per call
 * Uses pointer semantics as it's an API, not data
 */
type HTTPExecutor struct {
	client       *http.Client
	timeout      time.Duration
	headerPrefix string
	maxBodyChars int
	now          func() time.Time
}

// Option configures an HTTPExecutor
type Option func(*HTTPExecutor)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(e *HTTPExecutor) { e.client = c }
}

// WithTimeout replaces the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(e *HTTPExecutor) { e.timeout = d }
}

// WithHeaderPrefix replaces the product prefix of the reserved headers
func WithHeaderPrefix(prefix string) Option {
	return func(e *HTTPExecutor) { e.headerPrefix = strings.TrimSuffix(prefix, "-") }
}

// WithMaxBodyChars replaces how many characters of the response body are kept
func WithMaxBodyChars(n int) Option {
	return func(e *HTTPExecutor) { e.maxBodyChars = n }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(e *HTTPExecutor) { e.now = now }
}

// New creates an executor with the defaults above
func New(opts ...Option) *HTTPExecutor {
	e := &HTTPExecutor{
		timeout:      DefaultTimeout,
		headerPrefix: DefaultHeaderPrefix,
		maxBodyChars: DefaultMaxBodyChars,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{
			Timeout: e.timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return e
}

// Reserved header names, in the order they are set
func (e *HTTPExecutor) SignatureHeader() string { return e.headerPrefix + "-Signature" }
func (e *HTTPExecutor) TimestampHeader() string { return e.headerPrefix + "-Timestamp" }
func (e *HTTPExecutor) EventHeader() string     { return e.headerPrefix + "-Event" }
func (e *HTTPExecutor) DeliveryHeader() string  { return e.headerPrefix + "-Delivery" }

/* Execute sends the stored body of d to s.URL
 * Inactive subscriptions are never contacted
 * Only a missing secret is reported as an error, every HTTP or network
 * condition is described by the returned Outcome
 */
func (e *HTTPExecutor) Execute(ctx context.Context, d webhook.Delivery, s webhook.Subscription) (webhook.Outcome, error) {
	if !s.IsActive() {
		return webhook.Inactive(), nil
	}
	if s.Secret == "" {
		return webhook.Outcome{}, fmt.Errorf("executing delivery %s: %w", d.ID, webhook.ErrMissingSecret)
	}

	timestamp := e.now().UTC().Format(TimestampFormat)
	sig, err := signature.Sign(s.Secret, timestamp, d.RequestBody)
	if err != nil {
		return webhook.Outcome{}, fmt.Errorf("signing delivery %s: %w", d.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(d.RequestBody))
	if err != nil {
		// a malformed URL will not fix itself between attempts
		return webhook.Outcome{
			Class:        webhook.Terminal,
			ErrorMessage: fmt.Sprintf("building request: %v", err),
		}, nil
	}

	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(e.SignatureHeader(), sig.String())
	req.Header.Set(e.TimestampHeader(), timestamp)
	req.Header.Set(e.EventHeader(), d.EventType)
	req.Header.Set(e.DeliveryHeader(), d.ID)

	resp, err := e.client.Do(req)
	if err != nil {
		return webhook.Outcome{
			StatusCode:   0,
			DurationMs:   e.since(start),
			ErrorMessage: err.Error(),
			Class:        webhook.Retryable,
		}, nil
	}
	defer resp.Body.Close()

	// a body cut short by the deadline is still worth keeping
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(e.maxBodyChars*utf8.UTFMax)))

	outcome := webhook.Outcome{
		StatusCode: resp.StatusCode,
		Headers:    flatten(resp.Header),
		Body:       Truncate(string(raw), e.maxBodyChars),
		DurationMs: e.since(start),
		Class:      webhook.Classify(resp.StatusCode),
	}
	if outcome.Class != webhook.Succeeded {
		outcome.ErrorMessage = fmt.Sprintf("endpoint responded with status %d", resp.StatusCode)
	}

	return outcome, nil
}

func (e *HTTPExecutor) since(start time.Time) int64 {
	return e.now().Sub(start).Milliseconds()
}

// Truncate keeps at most n characters of s
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func flatten(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for k, v := range h {
		headers[k] = strings.Join(v, ", ")
	}
	return headers
}

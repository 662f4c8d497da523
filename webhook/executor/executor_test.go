package executor_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/executor"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newDelivery() webhook.Delivery {
	return webhook.Delivery{
		ID:            "dlv-1",
		WebhookID:     "wh-1",
		OrgID:         "org-1",
		EventType:     "course.completed",
		RequestBody:   []byte(`{"type":"course.completed","data":{"id":1}}`),
		AttemptNumber: 1,
		Status:        webhook.Pending,
	}
}

func newSubscription(url string) webhook.Subscription {
	return webhook.Subscription{
		ID:     "wh-1",
		OrgID:  "org-1",
		URL:    url,
		Secret: "whsec_test",
		Status: webhook.Active,
	}
}

type captured struct {
	method  string
	headers http.Header
	body    []byte
}

func receiver(t *testing.T, status int, body string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if got != nil {
			got.method = r.Method
			got.headers = r.Header.Clone()
			got.body = b
		}
		w.Header().Set("X-Request-Id", "req-42")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecute_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("sends signed POST with reserved headers", func(t *testing.T) {
		var got captured
		srv := receiver(t, http.StatusOK, `{"ok":true}`, &got)
		e := executor.New(executor.WithClock(func() time.Time { return fixedNow }))
		d := newDelivery()

		outcome, err := e.Execute(ctx, d, newSubscription(srv.URL))

		require.NoError(t, err)
		assert.Equal(t, webhook.Succeeded, outcome.Class)
		assert.Equal(t, http.StatusOK, outcome.StatusCode)
		assert.Equal(t, `{"ok":true}`, outcome.Body)
		assert.Equal(t, "req-42", outcome.Headers["X-Request-Id"])
		assert.Empty(t, outcome.ErrorMessage)

		assert.Equal(t, http.MethodPost, got.method)
		assert.Equal(t, d.RequestBody, got.body)
		assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
		assert.Equal(t, "2024-03-01T10:00:00.000Z", got.headers.Get("X-Webhook-Timestamp"))
		assert.Equal(t, "course.completed", got.headers.Get("X-Webhook-Event"))
		assert.Equal(t, "dlv-1", got.headers.Get("X-Webhook-Delivery"))

		valid, err := signature.Verify("whsec_test", got.headers.Get("X-Webhook-Timestamp"), got.body, got.headers.Get("X-Webhook-Signature"))
		require.NoError(t, err)
		assert.True(t, valid, "signature must cover the exact bytes sent")
	})

	t.Run("custom headers never override reserved ones", func(t *testing.T) {
		var got captured
		srv := receiver(t, http.StatusNoContent, "", &got)
		e := executor.New()
		sub := newSubscription(srv.URL)
		sub.Headers = map[string]string{
			"Authorization":       "Bearer abc",
			"x-webhook-signature": "sha256=forged",
			"X-Webhook-Delivery":  "other",
			"Content-Type":        "text/plain",
		}

		_, err := e.Execute(ctx, newDelivery(), sub)

		require.NoError(t, err)
		assert.Equal(t, "Bearer abc", got.headers.Get("Authorization"))
		assert.NotEqual(t, "sha256=forged", got.headers.Get("X-Webhook-Signature"))
		assert.Equal(t, "dlv-1", got.headers.Get("X-Webhook-Delivery"))
		assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	})

	t.Run("header prefix is configurable", func(t *testing.T) {
		var got captured
		srv := receiver(t, http.StatusOK, "", &got)
		e := executor.New(executor.WithHeaderPrefix("X-Acme-"))

		_, err := e.Execute(ctx, newDelivery(), newSubscription(srv.URL))

		require.NoError(t, err)
		assert.NotEmpty(t, got.headers.Get("X-Acme-Signature"))
		assert.Equal(t, "dlv-1", got.headers.Get("X-Acme-Delivery"))
		assert.Empty(t, got.headers.Get("X-Webhook-Signature"))
	})
}

func TestExecute_Classification(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		status int
		want   webhook.Classification
	}{
		{http.StatusOK, webhook.Succeeded},
		{http.StatusAccepted, webhook.Succeeded},
		{http.StatusTooManyRequests, webhook.Retryable},
		{http.StatusInternalServerError, webhook.Retryable},
		{http.StatusServiceUnavailable, webhook.Retryable},
		{http.StatusBadRequest, webhook.Terminal},
		{http.StatusUnauthorized, webhook.Terminal},
		{http.StatusNotFound, webhook.Terminal},
		{http.StatusMovedPermanently, webhook.Terminal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := receiver(t, tt.status, "", nil)
			client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
			e := executor.New(executor.WithHTTPClient(client))

			outcome, err := e.Execute(ctx, newDelivery(), newSubscription(srv.URL))

			require.NoError(t, err)
			assert.Equal(t, tt.status, outcome.StatusCode)
			assert.Equal(t, tt.want, outcome.Class)
			if tt.want != webhook.Succeeded {
				assert.Contains(t, outcome.ErrorMessage, "status")
			}
		})
	}
}

func TestExecute_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("inactive subscription makes no network call", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer srv.Close()
		e := executor.New()

		for _, status := range []webhook.SubscriptionStatus{webhook.Paused, webhook.Disabled} {
			sub := newSubscription(srv.URL)
			sub.Status = status

			outcome, err := e.Execute(ctx, newDelivery(), sub)

			require.NoError(t, err)
			assert.True(t, outcome.Skipped)
			assert.Equal(t, webhook.Terminal, outcome.Class)
			assert.Equal(t, webhook.ReasonSubscriptionInactive, outcome.ErrorMessage)
		}
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("missing secret is a configuration error", func(t *testing.T) {
		e := executor.New()
		sub := newSubscription("http://127.0.0.1:1")
		sub.Secret = ""

		_, err := e.Execute(ctx, newDelivery(), sub)

		require.ErrorIs(t, err, webhook.ErrMissingSecret)
	})

	t.Run("timeout is a retryable status 0", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()
		e := executor.New(executor.WithTimeout(50 * time.Millisecond))

		outcome, err := e.Execute(ctx, newDelivery(), newSubscription(srv.URL))

		require.NoError(t, err)
		assert.Equal(t, 0, outcome.StatusCode)
		assert.Equal(t, webhook.Retryable, outcome.Class)
		assert.NotEmpty(t, outcome.ErrorMessage)
	})

	t.Run("connection refused is a retryable status 0", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		e := executor.New()

		outcome, err := e.Execute(ctx, newDelivery(), newSubscription(url))

		require.NoError(t, err)
		assert.Equal(t, 0, outcome.StatusCode)
		assert.Equal(t, webhook.Retryable, outcome.Class)
	})

	t.Run("malformed URL is terminal", func(t *testing.T) {
		e := executor.New()

		outcome, err := e.Execute(ctx, newDelivery(), newSubscription("://no-scheme"))

		require.NoError(t, err)
		assert.Equal(t, webhook.Terminal, outcome.Class)
		assert.Contains(t, outcome.ErrorMessage, "building request")
	})
}

func TestExecute_ResponseBody(t *testing.T) {
	ctx := context.Background()

	t.Run("response body truncated to 10,000 characters", func(t *testing.T) {
		srv := receiver(t, http.StatusInternalServerError, strings.Repeat("a", 50000), nil)
		e := executor.New()

		outcome, err := e.Execute(ctx, newDelivery(), newSubscription(srv.URL))

		require.NoError(t, err)
		assert.Len(t, outcome.Body, 10000)
	})

	t.Run("multi-byte characters are counted, not bytes", func(t *testing.T) {
		srv := receiver(t, http.StatusOK, strings.Repeat("é", 20), nil)
		e := executor.New(executor.WithMaxBodyChars(10))

		outcome, err := e.Execute(ctx, newDelivery(), newSubscription(srv.URL))

		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("é", 10), outcome.Body)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", executor.Truncate("abc", 10))
	assert.Equal(t, "ab", executor.Truncate("abc", 2))
	assert.Equal(t, "", executor.Truncate("abc", 0))
	assert.Equal(t, "日本", executor.Truncate("日本語", 2))
}

package webhook_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-dispatch/scheduler"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/backoff"
	"github.com/marcelsud/webhook-dispatch/webhook/executor"
	"github.com/marcelsud/webhook-dispatch/webhook/mocks"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// endpoint is a receiver that answers with a scripted sequence of statuses
type endpoint struct {
	mu       sync.Mutex
	statuses []int
	bodies   [][]byte
	valid    []bool
	server   *httptest.Server
}

func newEndpoint(t *testing.T, secret string, statuses ...int) *endpoint {
	t.Helper()
	e := &endpoint{statuses: statuses}
	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ok, _ := signature.Verify(secret, r.Header.Get("X-Webhook-Timestamp"), body, r.Header.Get("X-Webhook-Signature"))

		e.mu.Lock()
		n := len(e.bodies)
		e.bodies = append(e.bodies, body)
		e.valid = append(e.valid, ok)
		status := e.statuses[len(e.statuses)-1]
		if n < len(e.statuses) {
			status = e.statuses[n]
		}
		e.mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(e.server.Close)
	return e
}

func (e *endpoint) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies)
}

// fixedDueList always returns the deliveries it was built with
type fixedDueList []webhook.Delivery

func (f fixedDueList) ListDue(context.Context, time.Time, int) ([]webhook.Delivery, error) {
	return f, nil
}

type harness struct {
	store   *memStore
	service *webhook.Service
	clock   time.Time
}

func newHarness(t *testing.T, url string, p webhook.RetryPolicy) *harness {
	t.Helper()
	h := &harness{clock: now}
	tick := func() time.Time { return h.clock }

	h.store = newMemStore(tick)
	h.store.policies["org-1"] = p
	require.NoError(t, h.store.SaveSubscription(context.Background(), webhook.Subscription{
		ID:     "wh-1",
		OrgID:  "org-1",
		URL:    url,
		Secret: "whsec_secret",
		Status: webhook.Active,
	}))

	recorder := webhook.NewRecorder(h.store, h.store).WithClock(tick)
	recorder.Backoff = backoff.NewWithFunc(func() float64 { return 0 })
	h.service = webhook.NewService(h.store, h.store, executor.New(), recorder).WithClock(tick)
	return h
}

func (h *harness) enqueue(t *testing.T) webhook.Delivery {
	t.Helper()
	d, err := h.service.Enqueue(context.Background(), "org-1", "wh-1", "course.completed", map[string]string{"course_id": "c-1"})
	require.NoError(t, err)
	return d
}

func TestService_DeliveryLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers after three server errors", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 500, 500, 500, 200)
		h := newHarness(t, ep.server.URL, policy(3, true))
		d := h.enqueue(t)

		for i := 0; i < 3; i++ {
			res, err := h.service.Dispatch(ctx, d.Trigger())
			require.NoError(t, err)
			assert.Equal(t, webhook.Result{Success: false, Status: 500}, res)
			assert.Equal(t, webhook.Retrying, h.store.delivery(d.ID).Status)
			h.clock = h.store.delivery(d.ID).NextRetryAt
		}

		res, err := h.service.Dispatch(ctx, d.Trigger())
		require.NoError(t, err)
		assert.Equal(t, webhook.Result{Success: true, Status: 200}, res)

		got := h.store.delivery(d.ID)
		assert.Equal(t, webhook.Success, got.Status)
		assert.Equal(t, 4, got.AttemptNumber)
		assert.False(t, got.ResolvedAt.IsZero())
		assert.Equal(t, 0, h.store.subscription("wh-1").ConsecutiveFailures)
		assert.Equal(t, 4, ep.calls())

		for i := range ep.bodies {
			assert.Equal(t, d.RequestBody, ep.bodies[i], "every attempt sends the stored body")
			assert.True(t, ep.valid[i], "every attempt is signed over the bytes sent")
		}
	})

	t.Run("retry delays follow the exponential policy", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 500)
		h := newHarness(t, ep.server.URL, policy(5, true))
		d := h.enqueue(t)

		want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
		for _, delay := range want {
			_, err := h.service.Dispatch(ctx, d.Trigger())
			require.NoError(t, err)
			assert.Equal(t, h.clock.Add(delay), h.store.delivery(d.ID).NextRetryAt)
			h.clock = h.store.delivery(d.ID).NextRetryAt
		}
	})

	t.Run("exhausted retries land in the DLQ", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 500)
		h := newHarness(t, ep.server.URL, policy(2, true))
		s := h.store.subscription("wh-1")
		s.ConsecutiveFailures = 2
		require.NoError(t, h.store.SaveSubscription(ctx, s))
		d := h.enqueue(t)

		for i := 0; i < 3; i++ {
			_, err := h.service.Dispatch(ctx, d.Trigger())
			require.NoError(t, err)
			h.clock = h.store.delivery(d.ID).NextRetryAt
		}

		got := h.store.delivery(d.ID)
		assert.Equal(t, webhook.DLQ, got.Status)
		assert.Equal(t, 3, got.AttemptNumber)
		assert.Equal(t, 3, h.store.subscription("wh-1").ConsecutiveFailures)
		assert.Equal(t, 3, ep.calls())
	})

	t.Run("client error is terminal on the first attempt", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 404)
		h := newHarness(t, ep.server.URL, policy(5, false))
		d := h.enqueue(t)

		res, err := h.service.Dispatch(ctx, d.Trigger())

		require.NoError(t, err)
		assert.Equal(t, webhook.Result{Success: false, Status: 404}, res)
		got := h.store.delivery(d.ID)
		assert.Equal(t, webhook.Failed, got.Status)
		assert.Equal(t, 1, got.AttemptNumber)
		assert.Equal(t, 1, h.store.subscription("wh-1").ConsecutiveFailures)
		assert.Equal(t, 1, ep.calls())
	})

	t.Run("paused subscription makes no call", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 200)
		h := newHarness(t, ep.server.URL, policy(5, true))
		s := h.store.subscription("wh-1")
		s.Status = webhook.Paused
		require.NoError(t, h.store.SaveSubscription(ctx, s))
		d := h.enqueue(t)

		res, err := h.service.Dispatch(ctx, d.Trigger())

		require.NoError(t, err)
		assert.False(t, res.Success)
		got := h.store.delivery(d.ID)
		assert.Equal(t, webhook.Failed, got.Status)
		assert.Equal(t, webhook.ReasonSubscriptionInactive, got.ErrorMessage)
		assert.Equal(t, 0, ep.calls())
	})

	t.Run("terminal delivery is reported, not re-sent", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 200)
		h := newHarness(t, ep.server.URL, policy(5, true))
		d := h.enqueue(t)

		_, err := h.service.Dispatch(ctx, d.Trigger())
		require.NoError(t, err)
		res, err := h.service.Dispatch(ctx, d.Trigger())

		require.NoError(t, err)
		assert.Equal(t, webhook.Result{Success: true, Status: 200}, res)
		assert.Equal(t, 1, ep.calls())
	})

	t.Run("retry is not sent before its backoff elapses", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 500, 200)
		h := newHarness(t, ep.server.URL, policy(3, true))
		d := h.enqueue(t)

		_, err := h.service.Dispatch(ctx, d.Trigger())
		require.NoError(t, err)
		retrying := h.store.delivery(d.ID)
		require.Equal(t, webhook.Retrying, retrying.Status)

		_, err = h.service.Dispatch(ctx, d.Trigger())

		require.ErrorIs(t, err, webhook.ErrDeliveryNotDue)
		assert.Equal(t, 1, ep.calls())
		assert.Equal(t, retrying, h.store.delivery(d.ID))
		assert.Empty(t, h.store.claims, "refused dispatch releases its claim")

		h.clock = retrying.NextRetryAt
		res, err := h.service.Dispatch(ctx, d.Trigger())
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 2, ep.calls())
	})

	t.Run("tick from an outdated due list skips a delivery already retried", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 500)
		h := newHarness(t, ep.server.URL, policy(3, true))
		d := h.enqueue(t)
		h.clock = d.NextRetryAt
		snapshot, err := h.store.ListDue(ctx, h.clock, 10)
		require.NoError(t, err)
		require.Len(t, snapshot, 1)

		// another scheduler dispatches first and schedules the retry 10s ahead
		_, err = h.service.Dispatch(ctx, d.Trigger())
		require.NoError(t, err)

		s := scheduler.New(fixedDueList(snapshot), h.service, scheduler.WithClock(func() time.Time { return h.clock }))
		stats, err := s.Tick(ctx)

		require.NoError(t, err)
		assert.Equal(t, scheduler.Stats{Due: 1, Skipped: 1}, stats)
		assert.Equal(t, 1, ep.calls())
		got := h.store.delivery(d.ID)
		assert.Equal(t, 2, got.AttemptNumber)
		assert.Equal(t, h.clock.Add(10*time.Second), got.NextRetryAt)
	})

	t.Run("concurrent dispatch of one delivery sends once", func(t *testing.T) {
		arrived := make(chan struct{})
		release := make(chan struct{})
		var calls int
		var mu sync.Mutex
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			mu.Unlock()
			close(arrived)
			<-release
		}))
		defer srv.Close()
		h := newHarness(t, srv.URL, policy(5, true))
		d := h.enqueue(t)

		done := make(chan error, 1)
		go func() {
			_, err := h.service.Dispatch(ctx, d.Trigger())
			done <- err
		}()
		<-arrived

		_, err := h.service.Dispatch(ctx, d.Trigger())
		require.ErrorIs(t, err, webhook.ErrDeliveryInFlight)

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, 1, calls)
		assert.Equal(t, webhook.Success, h.store.delivery(d.ID).Status)
	})
}

func TestService_DispatchErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid trigger", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := webhook.NewService(repo, nil, nil, nil)

		_, err := service.Dispatch(ctx, webhook.Trigger{DeliveryID: "dlv-1"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "validating trigger")
	})

	t.Run("unknown delivery is a configuration error", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))

		_, err := h.service.Dispatch(ctx, webhook.Trigger{DeliveryID: "nope", WebhookID: "wh-1", OrgID: "org-1"})

		require.ErrorIs(t, err, webhook.ErrDeliveryNotFound)
		assert.True(t, webhook.IsConfigError(err))
	})

	t.Run("trigger for another org is rejected", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))
		d := h.enqueue(t)

		_, err := h.service.Dispatch(ctx, webhook.Trigger{DeliveryID: d.ID, WebhookID: "wh-1", OrgID: "org-2"})

		require.ErrorIs(t, err, webhook.ErrTriggerMismatch)
		assert.Equal(t, webhook.Pending, h.store.delivery(d.ID).Status)
	})

	t.Run("missing secret fails the delivery without retry", func(t *testing.T) {
		ep := newEndpoint(t, "", 200)
		h := newHarness(t, ep.server.URL, policy(5, true))
		d := h.enqueue(t)
		s := h.store.subscription("wh-1")
		s.Secret = ""
		require.NoError(t, h.store.SaveSubscription(ctx, s))

		_, err := h.service.Dispatch(ctx, d.Trigger())

		require.ErrorIs(t, err, webhook.ErrMissingSecret)
		assert.Equal(t, webhook.Failed, h.store.delivery(d.ID).Status)
		assert.Equal(t, 0, ep.calls())
	})

	t.Run("deleted subscription fails the delivery", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(5, true))
		d := h.enqueue(t)
		delete(h.store.subscriptions, "wh-1")

		_, err := h.service.Dispatch(ctx, d.Trigger())

		require.ErrorIs(t, err, webhook.ErrSubscriptionNotFound)
		got := h.store.delivery(d.ID)
		assert.Equal(t, webhook.Failed, got.Status)
		assert.Equal(t, "subscription not found", got.ErrorMessage)
	})

	t.Run("claimed delivery is skipped", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := webhook.NewService(repo, nil, nil, nil)
		repo.On("Claim", mock.Anything, "dlv-1", mock.Anything, 2*time.Minute).Return(false, nil)

		_, err := service.Dispatch(ctx, webhook.Trigger{DeliveryID: "dlv-1", WebhookID: "wh-1", OrgID: "org-1"})

		require.ErrorIs(t, err, webhook.ErrDeliveryInFlight)
	})

	t.Run("policy lookup failure parks the delivery", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		policies := mocks.NewPolicyReader(t)
		service := webhook.NewService(repo, policies, nil, nil).WithClock(func() time.Time { return now })
		d := pendingDelivery(2)

		repo.On("Claim", mock.Anything, "dlv-1", mock.Anything, mock.Anything).Return(true, nil)
		repo.On("GetDelivery", mock.Anything, "dlv-1").Return(d, nil)
		repo.On("GetSubscription", mock.Anything, "wh-1").Return(sub, nil)
		policies.On("GetRetryPolicy", mock.Anything, "org-1").Return(webhook.RetryPolicy{}, errors.New("connection refused"))
		repo.On("UpdateDelivery", mock.Anything, webhook.MatchDelivery(func(d webhook.Delivery) bool {
			return d.Status == webhook.Retrying &&
				d.AttemptNumber == 2 &&
				d.NextRetryAt.Equal(now.Add(5*time.Minute))
		})).Return(nil)
		repo.On("Release", mock.Anything, "dlv-1", mock.Anything).Return(nil)

		_, err := service.Dispatch(ctx, d.Trigger())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "getting retry policy")
	})

	t.Run("panic parks the delivery and releases the claim", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		policies := mocks.NewPolicyReader(t)
		exec := mocks.NewExecutor(t)
		service := webhook.NewService(repo, policies, exec, nil).WithClock(func() time.Time { return now })
		d := pendingDelivery(1)

		repo.On("Claim", mock.Anything, "dlv-1", mock.Anything, mock.Anything).Return(true, nil)
		repo.On("GetDelivery", mock.Anything, "dlv-1").Return(d, nil)
		repo.On("GetSubscription", mock.Anything, "wh-1").Return(sub, nil)
		policies.On("GetRetryPolicy", mock.Anything, "org-1").Return(policy(3, true), nil)
		exec.On("Execute", mock.Anything, d, sub).Run(func(mock.Arguments) { panic("boom") })
		repo.On("UpdateDelivery", mock.Anything, webhook.MatchDelivery(func(d webhook.Delivery) bool {
			return d.Status == webhook.Retrying && d.ErrorMessage == "unexpected error: boom"
		})).Return(nil)
		repo.On("Release", mock.Anything, "dlv-1", mock.Anything).Return(nil)

		_, err := service.Dispatch(ctx, d.Trigger())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic: boom")
	})
}

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending delivery with a canonical body", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))

		d := h.enqueue(t)

		stored := h.store.delivery(d.ID)
		assert.Equal(t, webhook.Pending, stored.Status)
		assert.Equal(t, 1, stored.AttemptNumber)
		assert.Equal(t, now.Add(time.Minute), stored.NextRetryAt)
		event, err := payload.Parse(stored.RequestBody)
		require.NoError(t, err)
		assert.Equal(t, "course.completed", event.Type)
		assert.JSONEq(t, `{"course_id":"c-1"}`, string(event.Data))
	})

	t.Run("unknown subscription", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))

		_, err := h.service.Enqueue(ctx, "org-1", "wh-404", "course.completed", map[string]string{})

		require.ErrorIs(t, err, webhook.ErrSubscriptionNotFound)
	})

	t.Run("subscription of another org", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))

		_, err := h.service.Enqueue(ctx, "org-2", "wh-1", "course.completed", map[string]string{})

		require.ErrorIs(t, err, webhook.ErrSubscriptionNotFound)
	})

	t.Run("invalid event type", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))

		_, err := h.service.Enqueue(ctx, "org-1", "wh-1", "not valid", map[string]string{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "encoding payload")
	})
}

func TestService_Operations(t *testing.T) {
	ctx := context.Background()

	t.Run("send test delivers a webhook.test event", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 202)
		h := newHarness(t, ep.server.URL, policy(1, true))

		d, res, err := h.service.SendTest(ctx, "org-1", "wh-1")

		require.NoError(t, err)
		assert.Equal(t, webhook.Result{Success: true, Status: 202}, res)
		assert.Equal(t, webhook.TestEventType, d.EventType)
		require.Equal(t, 1, ep.calls())
		event, err := payload.Parse(ep.bodies[0])
		require.NoError(t, err)
		assert.Equal(t, "webhook.test", event.Type)
	})

	t.Run("dead letters are listed with stats and redriven", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 500, 500, 200)
		h := newHarness(t, ep.server.URL, policy(0, true))
		first := h.enqueue(t)
		_, err := h.service.Dispatch(ctx, first.Trigger())
		require.NoError(t, err)
		h.clock = h.clock.Add(time.Minute)
		second := h.enqueue(t)
		_, err = h.service.Dispatch(ctx, second.Trigger())
		require.NoError(t, err)

		items, stats, err := h.service.ListDeadLetters(ctx, "org-1", 10)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, 2, stats.Count)
		assert.Equal(t, 1, stats.UniqueWebhooks)
		assert.Equal(t, now, stats.Oldest)

		redriven, err := h.service.Redrive(ctx, "org-1", first.ID)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, redriven.ID)
		assert.Equal(t, first.RequestBody, redriven.RequestBody)
		assert.Equal(t, webhook.Pending, redriven.Status)
		assert.Equal(t, webhook.DLQ, h.store.delivery(first.ID).Status, "original stays dead-lettered")

		res, err := h.service.Dispatch(ctx, redriven.Trigger())
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("dead letter stats cover the whole queue, not the page", func(t *testing.T) {
		ep := newEndpoint(t, "whsec_secret", 500)
		h := newHarness(t, ep.server.URL, policy(0, true))
		for i := 0; i < 3; i++ {
			d := h.enqueue(t)
			_, err := h.service.Dispatch(ctx, d.Trigger())
			require.NoError(t, err)
			h.clock = h.clock.Add(time.Second)
		}

		items, stats, err := h.service.ListDeadLetters(ctx, "org-1", 1)

		require.NoError(t, err)
		assert.Len(t, items, 1)
		assert.Equal(t, webhook.DeadLetterStats{Count: 3, Oldest: now, UniqueWebhooks: 1}, stats)
	})

	t.Run("pending delivery cannot be redriven", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))
		d := h.enqueue(t)

		_, err := h.service.Redrive(ctx, "org-1", d.ID)

		require.ErrorIs(t, err, webhook.ErrNotRedrivable)
	})

	t.Run("get hides deliveries of other orgs", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", policy(1, true))
		d := h.enqueue(t)

		_, err := h.service.Get(ctx, "org-2", d.ID)
		require.ErrorIs(t, err, webhook.ErrDeliveryNotFound)

		got, err := h.service.Get(ctx, "org-1", d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
	})

	t.Run("retry preview", func(t *testing.T) {
		h := newHarness(t, "http://127.0.0.1:1", webhook.RetryPolicy{
			OrgID:            "org-1",
			MaxRetries:       3,
			Strategy:         backoff.Linear,
			BaseDelaySeconds: 30,
			MaxDelaySeconds:  60,
			Jitter:           true,
		})

		preview, err := h.service.PreviewRetries(ctx, "org-1")

		require.NoError(t, err)
		assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 60 * time.Second}, preview.Delays)
		assert.Equal(t, 150*time.Second, preview.Total)
		assert.Equal(t, 225*time.Second, preview.MaxTotal)
	})
}

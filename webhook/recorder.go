package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook/backoff"
	"github.com/rs/zerolog"
)

/* Recorder applies an attempt outcome to the delivery and its subscription
 * It is the only component that writes mutable delivery and subscription fields
 */
type Recorder struct {
	Deliveries    DeliveryWriter
	Subscriptions SubscriptionWriter
	Backoff       DelayCalculator
	Observer      Observer
	Logger        zerolog.Logger
	now           func() time.Time
}

// NewRecorder creates a recorder with the wall clock and a randomized delay calculator
func NewRecorder(deliveries DeliveryWriter, subscriptions SubscriptionWriter) *Recorder {
	return &Recorder{
		Deliveries:    deliveries,
		Subscriptions: subscriptions,
		Backoff:       backoff.New(),
		Logger:        zerolog.Nop(),
		now:           time.Now,
	}
}

// WithClock replaces the time source, for tests
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

/* Record persists the outcome and returns the delivery as stored
 * Transitions:
 *   success                               -> Success, subscription counter reset
 *   retryable with attempts left          -> Retrying, attempt+1, NextRetryAt = now + delay
 *   retryable exhausted or terminal       -> DLQ or Failed per policy, subscription counter+1
 *   skipped (inactive subscription)       -> Failed, subscription untouched
 */
func (r *Recorder) Record(ctx context.Context, d Delivery, sub Subscription, policy RetryPolicy, o Outcome) (Delivery, error) {
	if d.Status.IsFinal() {
		return d, fmt.Errorf("recording delivery %s: %w", d.ID, ErrDeliveryFinal)
	}

	now := r.now()
	d.ResponseStatus = o.StatusCode
	d.ResponseHeaders = o.Headers
	d.ResponseBody = o.Body
	d.DurationMs = o.DurationMs
	d.ErrorMessage = o.ErrorMessage
	d.UpdatedAt = now

	var subscriptionUpdate func(context.Context, string, time.Time) error

	switch {
	case o.Skipped:
		d.Status = Failed
		d.NextRetryAt = time.Time{}
		d.ResolvedAt = now
	case o.Class == Succeeded:
		d.Status = Success
		d.NextRetryAt = time.Time{}
		d.ResolvedAt = now
		subscriptionUpdate = r.Subscriptions.MarkSubscriptionSuccess
	case o.Class == Retryable && d.AttemptNumber < policy.MaxAttempts():
		delay := r.Backoff.Duration(d.AttemptNumber, policy.Strategy, float64(policy.BaseDelaySeconds), float64(policy.MaxDelaySeconds), policy.Jitter)
		d.Status = Retrying
		d.NextRetryAt = now.Add(delay)
		d.AttemptNumber++
	default:
		d.Status = policy.ExhaustedStatus()
		d.NextRetryAt = time.Time{}
		d.ResolvedAt = now
		subscriptionUpdate = r.Subscriptions.MarkSubscriptionFailure
	}

	if err := r.Deliveries.UpdateDelivery(ctx, d); err != nil {
		return d, fmt.Errorf("updating delivery %s: %w", d.ID, err)
	}

	if subscriptionUpdate != nil {
		if err := subscriptionUpdate(ctx, sub.ID, now); err != nil {
			return d, fmt.Errorf("updating subscription %s: %w", sub.ID, err)
		}
	}

	if r.Observer != nil {
		r.Observer.ObserveAttempt(d, o)
	}

	r.Logger.Info().
		Str("delivery_id", d.ID).
		Str("webhook_id", d.WebhookID).
		Str("org_id", d.OrgID).
		Str("status", d.Status.String()).
		Int("attempt", d.AttemptNumber).
		Int("response_status", o.StatusCode).
		Int64("duration_ms", o.DurationMs).
		Str("error", o.ErrorMessage).
		Msg("delivery attempt recorded")

	return d, nil
}

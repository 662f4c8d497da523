package webhook

import (
	"context"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook/backoff"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Every adapter wraps ErrDeliveryNotFound / ErrSubscriptionNotFound so callers can use errors.Is
 */

// DeliveryReader provides read operations for deliveries
type DeliveryReader interface {
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	/* ListDue returns pending or retrying deliveries whose NextRetryAt is not after now,
	 * oldest first
	 */
	ListDue(ctx context.Context, now time.Time, limit int) ([]Delivery, error)
	ListDeadLetters(ctx context.Context, orgID string, limit int) ([]Delivery, error)
	// DeadLetterStats covers every dead-lettered delivery of the org, not a page of them
	DeadLetterStats(ctx context.Context, orgID string) (DeadLetterStats, error)
}

// DeadLetterStats summarizes the dead-lettered deliveries of an organization
type DeadLetterStats struct {
	Count          int
	Oldest         time.Time
	UniqueWebhooks int
}

// DeliveryWriter provides write operations for deliveries
type DeliveryWriter interface {
	CreateDelivery(ctx context.Context, d Delivery) (string, error)
	/* UpdateDelivery persists every mutable field of d
	 * Returns ErrDeliveryFinal if the stored delivery is already terminal
	 */
	UpdateDelivery(ctx context.Context, d Delivery) error
}

// SubscriptionReader provides read operations for subscriptions
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, id string) (Subscription, error)
}

// SubscriptionWriter provides write operations for subscriptions
type SubscriptionWriter interface {
	SaveSubscription(ctx context.Context, s Subscription) error
	/* The health counters are changed atomically by the store,
	 * so concurrent deliveries for one subscription never lose an update
	 */
	MarkSubscriptionSuccess(ctx context.Context, id string, at time.Time) error
	MarkSubscriptionFailure(ctx context.Context, id string, at time.Time) error
}

/* Claimer guards against two dispatches of the same delivery running at once
 * A claim expires after lease so a crashed worker never blocks a delivery forever
 * Release only drops the claim while it is still held with token
 */
type Claimer interface {
	Claim(ctx context.Context, id, token string, lease time.Duration) (bool, error)
	Release(ctx context.Context, id, token string) error
}

// PolicyReader resolves the retry policy of an organization
type PolicyReader interface {
	GetRetryPolicy(ctx context.Context, orgID string) (RetryPolicy, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	DeliveryReader
	DeliveryWriter
	SubscriptionReader
	SubscriptionWriter
	Claimer
	Close(ctx context.Context) error
}

// Executor performs a single delivery attempt
type Executor interface {
	/* Execute never returns an error for HTTP or network conditions,
	 * those are reported in the Outcome. Errors mean misconfiguration.
	 */
	Execute(ctx context.Context, d Delivery, s Subscription) (Outcome, error)
}

// DelayCalculator computes the wait before the next attempt
type DelayCalculator interface {
	Duration(attempt int, strategy backoff.Strategy, baseDelay, maxDelay float64, jitter bool) time.Duration
}

// Observer receives a notification for every recorded attempt
type Observer interface {
	ObserveAttempt(d Delivery, o Outcome)
}

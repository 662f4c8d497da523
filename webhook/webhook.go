package webhook

import (
	"fmt"
	"time"
)

/* Subscription is an integration endpoint registered by an organization
 * Uses value semantics as it represents data, not behavior
 * Zero time values mean "never happened"
 */
type Subscription struct {
	ID                  string
	OrgID               string
	URL                 string
	Secret              string
	Status              SubscriptionStatus
	Headers             map[string]string
	ConsecutiveFailures int
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	LastTriggeredAt     time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsActive reports whether the subscription may be contacted
func (s Subscription) IsActive() bool {
	return s.Status == Active
}

/* Delivery is one logical delivery of one event to one subscription
 * RequestBody is fixed at creation and never rewritten
 * The response fields describe the most recent attempt only
 */
type Delivery struct {
	ID              string
	WebhookID       string
	OrgID           string
	EventType       string
	RequestBody     []byte
	AttemptNumber   int
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string]string
	ResponseBody    string
	DurationMs      int64
	ErrorMessage    string
	NextRetryAt     time.Time
	ResolvedAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Trigger returns the inbound payload that dispatches this delivery
func (d Delivery) Trigger() Trigger {
	return Trigger{
		DeliveryID: d.ID,
		WebhookID:  d.WebhookID,
		OrgID:      d.OrgID,
	}
}

// Trigger identifies a delivery to attempt now
type Trigger struct {
	DeliveryID string
	WebhookID  string
	OrgID      string
}

// Validate checks that every identifier is present
func (t Trigger) Validate() error {
	if t.DeliveryID == "" {
		return fmt.Errorf("delivery_id is required")
	}
	if t.WebhookID == "" {
		return fmt.Errorf("webhook_id is required")
	}
	if t.OrgID == "" {
		return fmt.Errorf("org_id is required")
	}
	return nil
}

// Result is what a dispatch reports back to its caller
type Result struct {
	Success bool
	Status  int
}

package tenants

import (
	"fmt"
	"net/url"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* Tenant is an organization with its retry policy and webhook subscriptions
 * A nil Policy means the organization uses the default policy
 */
type Tenant struct {
	OrgID         string
	Policy        *webhook.RetryPolicy
	Subscriptions []webhook.Subscription
}

// Validate checks the tenant, its policy and every subscription
func (t *Tenant) Validate() error {
	if t.OrgID == "" {
		return fmt.Errorf("org_id cannot be empty")
	}
	if t.Policy != nil {
		if err := t.Policy.Validate(); err != nil {
			return fmt.Errorf("invalid retry_policy for org %s: %w", t.OrgID, err)
		}
	}

	seen := make(map[string]struct{}, len(t.Subscriptions))
	for _, s := range t.Subscriptions {
		if err := validateSubscription(s); err != nil {
			return fmt.Errorf("invalid subscription for org %s: %w", t.OrgID, err)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate webhook_id %s for org %s", s.ID, t.OrgID)
		}
		seen[s.ID] = struct{}{}
	}

	return nil
}

func validateSubscription(s webhook.Subscription) error {
	if s.ID == "" {
		return fmt.Errorf("webhook_id cannot be empty")
	}
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty for webhook %s", s.ID)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid url for webhook %s: %w", s.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https for webhook %s (got %q)", s.ID, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must have a host for webhook %s", s.ID)
	}
	if err := s.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status for webhook %s: %w", s.ID, err)
	}
	// Signing needs a secret, a missing one would fail every delivery
	if s.Secret == "" {
		return fmt.Errorf("secret cannot be empty for webhook %s", s.ID)
	}
	return nil
}

// RetryPolicy returns the tenant's policy, or def when it has none
func (t *Tenant) RetryPolicy(def webhook.RetryPolicy) webhook.RetryPolicy {
	p := def
	if t.Policy != nil {
		p = *t.Policy
	}
	p.OrgID = t.OrgID
	return p
}

package webhook

import (
	"fmt"

	"github.com/marcelsud/webhook-dispatch/webhook/backoff"
)

/* RetryPolicy is the per-organization retry configuration
 * Read-only from the point of view of the delivery engine
 */
type RetryPolicy struct {
	OrgID            string
	MaxRetries       int
	Strategy         backoff.Strategy
	BaseDelaySeconds int
	MaxDelaySeconds  int
	Jitter           bool
	DeadLetter       bool
}

// DefaultRetryPolicy is used for organizations without explicit configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       5,
		Strategy:         backoff.Exponential,
		BaseDelaySeconds: 10,
		MaxDelaySeconds:  3600,
		Jitter:           true,
		DeadLetter:       true,
	}
}

// Validate checks the policy invariants
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries cannot be negative (got %d)", ErrInvalidPolicy, p.MaxRetries)
	}
	if err := p.Strategy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if p.BaseDelaySeconds <= 0 {
		return fmt.Errorf("%w: base_delay_seconds must be positive (got %d)", ErrInvalidPolicy, p.BaseDelaySeconds)
	}
	if p.MaxDelaySeconds < p.BaseDelaySeconds {
		return fmt.Errorf("%w: max_delay_seconds (%d) must be >= base_delay_seconds (%d)", ErrInvalidPolicy, p.MaxDelaySeconds, p.BaseDelaySeconds)
	}
	return nil
}

// MaxAttempts is the total number of attempts, the first one included
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// ExhaustedStatus is where a delivery lands when it cannot be retried any more
func (p RetryPolicy) ExhaustedStatus() Status {
	if p.DeadLetter {
		return DLQ
	}
	return Failed
}

// Preview lists the delays this policy produces between attempts
func (p RetryPolicy) Preview() backoff.Preview {
	return backoff.Schedule(p.MaxRetries, p.Strategy, float64(p.BaseDelaySeconds), float64(p.MaxDelaySeconds), p.Jitter)
}

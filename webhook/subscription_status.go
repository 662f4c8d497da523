package webhook

import "fmt"

/* SubscriptionStatus represents whether an integration accepts deliveries
 * Only Active subscriptions are ever contacted over the network
 */
type SubscriptionStatus int

const (
	Active SubscriptionStatus = iota + 1
	Paused
	Disabled
)

// String returns the string representation of the subscription status
func (s SubscriptionStatus) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// NewSubscriptionStatus creates a SubscriptionStatus from a string
func NewSubscriptionStatus(s string) SubscriptionStatus {
	switch s {
	case "active":
		return Active
	case "paused":
		return Paused
	case "disabled":
		return Disabled
	default:
		return Paused // unknown values never receive traffic
	}
}

// Validate checks if the subscription status is valid
func (s SubscriptionStatus) Validate() error {
	if s < Active || s > Disabled {
		return fmt.Errorf("invalid subscription status: %d", s)
	}
	return nil
}

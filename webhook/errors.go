package webhook

import "errors"

// Configuration errors. None of them is retried.
var (
	ErrDeliveryNotFound     = errors.New("delivery not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrMissingSecret        = errors.New("subscription has no signing secret")
	ErrTriggerMismatch      = errors.New("trigger does not match delivery")
	ErrInvalidPolicy        = errors.New("invalid retry policy")
)

// State errors
var (
	ErrDeliveryInFlight = errors.New("delivery is already being dispatched")
	ErrDeliveryNotDue   = errors.New("delivery retry is not due yet")
	ErrDeliveryFinal    = errors.New("delivery already reached a terminal status")
	ErrNotRedrivable    = errors.New("only failed or dead-lettered deliveries can be redriven")
)

// IsConfigError reports whether err belongs to the configuration error class
func IsConfigError(err error) bool {
	return errors.Is(err, ErrDeliveryNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrMissingSecret) ||
		errors.Is(err, ErrTriggerMismatch) ||
		errors.Is(err, ErrInvalidPolicy)
}

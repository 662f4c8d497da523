package webhook

import "net/http"

// ReasonSubscriptionInactive is recorded when a paused or disabled subscription is skipped
const ReasonSubscriptionInactive = "subscription inactive"

// Classification is the verdict on a single delivery attempt
type Classification int

const (
	Succeeded Classification = iota + 1
	Retryable
	Terminal
)

// String returns the string representation of the classification
func (c Classification) String() string {
	switch c {
	case Succeeded:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

/* Classify maps an HTTP status to a verdict
 * 0 means the request never produced a response (network error, timeout)
 */
func Classify(statusCode int) Classification {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Succeeded
	case statusCode == 0,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500 && statusCode < 600:
		return Retryable
	default:
		return Terminal
	}
}

// Outcome is what the executor observed for one attempt
type Outcome struct {
	StatusCode   int
	Headers      map[string]string
	Body         string
	DurationMs   int64
	ErrorMessage string
	Class        Classification
	// Skipped is set when no request was made because the subscription is inactive
	Skipped bool
}

// Inactive is the outcome for a subscription that must not be contacted
func Inactive() Outcome {
	return Outcome{
		Class:        Terminal,
		ErrorMessage: ReasonSubscriptionInactive,
		Skipped:      true,
	}
}

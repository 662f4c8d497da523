package webhook

import "fmt"

/* Status represents the current state of a webhook delivery
 * Follows the lifecycle: Pending -> Retrying* -> Success/Failed/DLQ
 * Success, Failed and DLQ are sinks: once reached, nothing moves a delivery out of them
 */
type Status int

const (
	Pending Status = iota + 1
	Retrying
	Success
	Failed
	DLQ
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Success:
		return "success"
	case Failed:
		return "failed"
	case DLQ:
		return "dlq"
	default:
		return "unknown"
	}
}

/* NewStatus creates a Status from a string
 * Unknown values map to the zero Status, which fails Validate
 */
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "retrying":
		return Retrying
	case "success":
		return Success
	case "failed":
		return Failed
	case "dlq":
		return DLQ
	default:
		return 0
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > DLQ {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Success || s == Failed || s == DLQ
}

// IsDue reports whether a delivery in this status is waiting for an attempt
func (s Status) IsDue() bool {
	return s == Pending || s == Retrying
}

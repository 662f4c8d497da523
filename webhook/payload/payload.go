package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

/* Event is the envelope every subscriber receives
 * It is serialized exactly once, when the delivery is created.
 * Those bytes are what gets signed and what goes over the wire, on every attempt.
 */
type Event struct {
	// Type is a full-stop delimited type associated with the event
	// Examples: "course.completed", "enrollment.created", "webhook.test"
	Type string `json:"type"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Data is the event data
	Data json.RawMessage `json:"data"`
}

// Validate validates the envelope
func (e Event) Validate() error {
	if err := ValidateEventType(e.Type); err != nil {
		return err
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}

	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}

	return nil
}

// MarshalJSON renders the timestamp in UTC with nanosecond precision
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Alias:     (*Alias)(&e),
	})
}

// UnmarshalJSON parses the JSON-encoded data and stores the result
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling event: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}
	e.Timestamp = timestamp

	return nil
}

// New creates an Event of the given type occurring at
func New(eventType string, data any, at time.Time) (Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling data: %w", err)
	}

	event := Event{
		Type:      eventType,
		Timestamp: at.UTC(),
		Data:      dataBytes,
	}

	if err := event.Validate(); err != nil {
		return Event{}, fmt.Errorf("validating event: %w", err)
	}

	return event, nil
}

// Encode builds the event and returns its canonical serialization
func Encode(eventType string, data any, at time.Time) ([]byte, error) {
	event, err := New(eventType, data, at)
	if err != nil {
		return nil, err
	}
	return event.Bytes()
}

// Parse parses a JSON body into an Event
func Parse(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("unmarshaling event: %w", err)
	}

	if err := event.Validate(); err != nil {
		return Event{}, fmt.Errorf("validating event: %w", err)
	}

	return event, nil
}

// Bytes returns the minified JSON encoding
func (e Event) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ValidateEventType validates an event type format
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}

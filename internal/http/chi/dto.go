package chi

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* HTTP layer DTOs for the delivery API
 * Separate from domain entities to avoid leaking internal structure
 */

var validate = validator.New()

// triggerRequest is the inbound payload that asks for one attempt now
type triggerRequest struct {
	DeliveryID string `json:"delivery_id" validate:"required"`
	WebhookID  string `json:"webhook_id" validate:"required"`
	OrgID      string `json:"org_id" validate:"required"`
}

type resultResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// eventRequest is an event to deliver to one subscription
type eventRequest struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data" validate:"required"`
}

type eventResponse struct {
	DeliveryID string `json:"delivery_id"`
	Success    bool   `json:"success"`
	Status     int    `json:"status"`
}

type deliveryResponse struct {
	ID              string            `json:"id"`
	WebhookID       string            `json:"webhook_id"`
	OrgID           string            `json:"org_id"`
	EventType       string            `json:"event_type"`
	RequestBody     json.RawMessage   `json:"request_body"`
	AttemptNumber   int               `json:"attempt_number"`
	Status          string            `json:"status"`
	ResponseStatus  int               `json:"response_status"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	DurationMs      int64             `json:"duration_ms"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	NextRetryAt     *time.Time        `json:"next_retry_at,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type deadLettersResponse struct {
	Items []deliveryResponse `json:"items"`
	Stats deadLetterStats    `json:"stats"`
}

type deadLetterStats struct {
	Count          int        `json:"count"`
	Oldest         *time.Time `json:"oldest,omitempty"`
	UniqueWebhooks int        `json:"unique_webhooks"`
}

type previewResponse struct {
	OrgID           string    `json:"org_id"`
	Strategy        string    `json:"strategy"`
	MaxRetries      int       `json:"max_retries"`
	BaseDelay       int       `json:"base_delay_seconds"`
	MaxDelay        int       `json:"max_delay_seconds"`
	Jitter          bool      `json:"jitter"`
	DeadLetter      bool      `json:"dead_letter"`
	DelaysSeconds   []float64 `json:"delays_seconds"`
	TotalSeconds    float64   `json:"total_seconds"`
	MaxTotalSeconds float64   `json:"max_total_seconds"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toDeliveryResponse(d webhook.Delivery) deliveryResponse {
	body := json.RawMessage(d.RequestBody)
	if !json.Valid(body) {
		body = nil
	}
	return deliveryResponse{
		ID:              d.ID,
		WebhookID:       d.WebhookID,
		OrgID:           d.OrgID,
		EventType:       d.EventType,
		RequestBody:     body,
		AttemptNumber:   d.AttemptNumber,
		Status:          d.Status.String(),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		DurationMs:      d.DurationMs,
		ErrorMessage:    d.ErrorMessage,
		NextRetryAt:     optionalTime(d.NextRetryAt),
		ResolvedAt:      optionalTime(d.ResolvedAt),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func toPreviewResponse(p webhook.RetryPreview) previewResponse {
	delays := make([]float64, len(p.Delays))
	for i, d := range p.Delays {
		delays[i] = d.Seconds()
	}
	return previewResponse{
		OrgID:           p.Policy.OrgID,
		Strategy:        p.Policy.Strategy.String(),
		MaxRetries:      p.Policy.MaxRetries,
		BaseDelay:       p.Policy.BaseDelaySeconds,
		MaxDelay:        p.Policy.MaxDelaySeconds,
		Jitter:          p.Policy.Jitter,
		DeadLetter:      p.Policy.DeadLetter,
		DelaysSeconds:   delays,
		TotalSeconds:    p.Total.Seconds(),
		MaxTotalSeconds: p.MaxTotal.Seconds(),
	}
}

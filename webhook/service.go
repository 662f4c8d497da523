package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/webhook/backoff"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/rs/zerolog"
)

// TestEventType is the event sent by SendTest
const TestEventType = "webhook.test"

const (
	defaultClaimLease   = 2 * time.Minute
	defaultPendingGrace = time.Minute
	defaultParkDelay    = 5 * time.Minute
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the business operations of the delivery engine
type UseCase interface {
	Enqueue(ctx context.Context, orgID, webhookID, eventType string, data any) (Delivery, error)
	Dispatch(ctx context.Context, t Trigger) (Result, error)
	Get(ctx context.Context, orgID, deliveryID string) (Delivery, error)
	ListDeadLetters(ctx context.Context, orgID string, limit int) ([]Delivery, DeadLetterStats, error)
	Redrive(ctx context.Context, orgID, deliveryID string) (Delivery, error)
	SendTest(ctx context.Context, orgID, webhookID string) (Delivery, Result, error)
	PreviewRetries(ctx context.Context, orgID string) (RetryPreview, error)
}

// RetryPreview shows the wait before each retry an organization's policy produces
type RetryPreview struct {
	Policy   RetryPolicy
	Delays   []time.Duration
	Total    time.Duration
	MaxTotal time.Duration
}

type Service struct {
	Repo     Repository
	Policies PolicyReader
	Executor Executor
	Recorder *Recorder
	Logger   zerolog.Logger

	// ClaimLease bounds how long a crashed dispatcher can hold a delivery
	ClaimLease time.Duration
	// PendingGrace is how long a new delivery waits for its immediate attempt before the scheduler takes over
	PendingGrace time.Duration
	// ParkDelay is the conservative wait used when a dispatch fails unexpectedly
	ParkDelay time.Duration

	now func() time.Time
}

// NewService creates a new delivery service with dependency injection
func NewService(repo Repository, policies PolicyReader, executor Executor, recorder *Recorder) *Service {
	return &Service{
		Repo:         repo,
		Policies:     policies,
		Executor:     executor,
		Recorder:     recorder,
		Logger:       zerolog.Nop(),
		ClaimLease:   defaultClaimLease,
		PendingGrace: defaultPendingGrace,
		ParkDelay:    defaultParkDelay,
		now:          time.Now,
	}
}

// WithClock replaces the time source, for tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

/* Enqueue creates a pending delivery for one event and one subscription
 * The body is serialized here, once. Every attempt signs and sends these exact bytes.
 */
func (s *Service) Enqueue(ctx context.Context, orgID, webhookID, eventType string, data any) (Delivery, error) {
	if orgID == "" || webhookID == "" {
		return Delivery{}, fmt.Errorf("org_id and webhook_id are required")
	}

	sub, err := s.Repo.GetSubscription(ctx, webhookID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting subscription: %w", err)
	}
	if sub.OrgID != orgID {
		return Delivery{}, fmt.Errorf("getting subscription %s for org %s: %w", webhookID, orgID, ErrSubscriptionNotFound)
	}

	now := s.now()
	body, err := payload.Encode(eventType, data, now)
	if err != nil {
		return Delivery{}, fmt.Errorf("encoding payload: %w", err)
	}

	d := Delivery{
		ID:            uuid.New().String(),
		WebhookID:     webhookID,
		OrgID:         orgID,
		EventType:     eventType,
		RequestBody:   body,
		AttemptNumber: 1,
		Status:        Pending,
		NextRetryAt:   now.Add(s.PendingGrace),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	id, err := s.Repo.CreateDelivery(ctx, d)
	if err != nil {
		return Delivery{}, fmt.Errorf("creating delivery: %w", err)
	}
	d.ID = id

	return d, nil
}

/* Dispatch makes one attempt at the delivery named by the trigger
 * Terminal deliveries are reported, never re-sent
 * A retrying delivery whose NextRetryAt is still ahead is refused with ErrDeliveryNotDue,
 * pending deliveries are always eligible so the immediate attempt can run
 * Whatever happens after the claim, the delivery is left terminal or retrying
 */
func (s *Service) Dispatch(ctx context.Context, t Trigger) (res Result, err error) {
	if err := t.Validate(); err != nil {
		return Result{}, fmt.Errorf("validating trigger: %w", err)
	}

	token := uuid.NewString()
	claimed, err := s.Repo.Claim(ctx, t.DeliveryID, token, s.ClaimLease)
	if err != nil {
		return Result{}, fmt.Errorf("claiming delivery: %w", err)
	}
	if !claimed {
		return Result{}, fmt.Errorf("claiming delivery %s: %w", t.DeliveryID, ErrDeliveryInFlight)
	}
	defer func() {
		if rerr := s.Repo.Release(context.WithoutCancel(ctx), t.DeliveryID, token); rerr != nil {
			s.Logger.Warn().Err(rerr).Str("delivery_id", t.DeliveryID).Msg("releasing claim")
		}
	}()

	d, err := s.Repo.GetDelivery(ctx, t.DeliveryID)
	if err != nil {
		return Result{}, fmt.Errorf("getting delivery: %w", err)
	}
	if d.WebhookID != t.WebhookID || d.OrgID != t.OrgID {
		return Result{}, fmt.Errorf("dispatching delivery %s: %w", d.ID, ErrTriggerMismatch)
	}
	if d.Status.IsFinal() {
		return Result{Success: d.Status == Success, Status: d.ResponseStatus}, nil
	}
	if d.Status == Retrying && d.NextRetryAt.After(s.now()) {
		return Result{}, fmt.Errorf("dispatching delivery %s before %s: %w", d.ID, d.NextRetryAt.Format(time.RFC3339), ErrDeliveryNotDue)
	}

	defer func() {
		if r := recover(); r != nil {
			s.park(ctx, d, fmt.Sprintf("unexpected error: %v", r))
			res, err = Result{}, fmt.Errorf("dispatching delivery %s: panic: %v", d.ID, r)
		}
	}()

	sub, err := s.Repo.GetSubscription(ctx, d.WebhookID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		s.fail(ctx, d, "subscription not found")
		return Result{}, fmt.Errorf("getting subscription: %w", err)
	}
	if err != nil {
		s.park(ctx, d, fmt.Sprintf("getting subscription: %v", err))
		return Result{}, fmt.Errorf("getting subscription: %w", err)
	}

	policy, err := s.Policies.GetRetryPolicy(ctx, d.OrgID)
	if err == nil {
		err = policy.Validate()
	}
	if err != nil {
		s.park(ctx, d, fmt.Sprintf("getting retry policy: %v", err))
		return Result{}, fmt.Errorf("getting retry policy: %w", err)
	}

	outcome, err := s.Executor.Execute(ctx, d, sub)
	if err != nil {
		s.fail(ctx, d, err.Error())
		return Result{}, fmt.Errorf("executing delivery: %w", err)
	}

	if _, err := s.Recorder.Record(ctx, d, sub, policy, outcome); err != nil {
		return Result{}, fmt.Errorf("recording outcome: %w", err)
	}

	return Result{Success: outcome.Class == Succeeded, Status: outcome.StatusCode}, nil
}

// fail marks the delivery failed for a configuration error that no retry can fix
func (s *Service) fail(ctx context.Context, d Delivery, reason string) {
	now := s.now()
	d.Status = Failed
	d.ErrorMessage = reason
	d.NextRetryAt = time.Time{}
	d.ResolvedAt = now
	d.UpdatedAt = now
	s.save(ctx, d)
}

// park leaves the delivery retrying after ParkDelay so the scheduler picks it up again
func (s *Service) park(ctx context.Context, d Delivery, reason string) {
	now := s.now()
	d.Status = Retrying
	d.ErrorMessage = reason
	d.NextRetryAt = now.Add(s.ParkDelay)
	d.UpdatedAt = now
	s.save(ctx, d)
}

func (s *Service) save(ctx context.Context, d Delivery) {
	if err := s.Repo.UpdateDelivery(context.WithoutCancel(ctx), d); err != nil {
		s.Logger.Error().Err(err).
			Str("delivery_id", d.ID).
			Str("status", d.Status.String()).
			Msg("saving delivery after dispatch error")
		return
	}
	s.Logger.Warn().
		Str("delivery_id", d.ID).
		Str("webhook_id", d.WebhookID).
		Str("org_id", d.OrgID).
		Str("status", d.Status.String()).
		Str("error", d.ErrorMessage).
		Msg("dispatch aborted")
}

// Get returns a delivery owned by orgID
func (s *Service) Get(ctx context.Context, orgID, deliveryID string) (Delivery, error) {
	d, err := s.Repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if d.OrgID != orgID {
		return Delivery{}, fmt.Errorf("getting delivery %s for org %s: %w", deliveryID, orgID, ErrDeliveryNotFound)
	}
	return d, nil
}

// ListDeadLetters returns up to limit dead-lettered deliveries, oldest first, with stats over the whole queue
func (s *Service) ListDeadLetters(ctx context.Context, orgID string, limit int) ([]Delivery, DeadLetterStats, error) {
	items, err := s.Repo.ListDeadLetters(ctx, orgID, limit)
	if err != nil {
		return nil, DeadLetterStats{}, fmt.Errorf("listing dead letters: %w", err)
	}

	stats, err := s.Repo.DeadLetterStats(ctx, orgID)
	if err != nil {
		return nil, DeadLetterStats{}, fmt.Errorf("counting dead letters: %w", err)
	}

	return items, stats, nil
}

/* Redrive re-enqueues a failed or dead-lettered delivery as a new delivery
 * The new delivery carries the identical body; the original record is not touched
 */
func (s *Service) Redrive(ctx context.Context, orgID, deliveryID string) (Delivery, error) {
	original, err := s.Get(ctx, orgID, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	if original.Status != DLQ && original.Status != Failed {
		return Delivery{}, fmt.Errorf("redriving delivery %s in status %s: %w", deliveryID, original.Status, ErrNotRedrivable)
	}

	now := s.now()
	d := Delivery{
		ID:            uuid.New().String(),
		WebhookID:     original.WebhookID,
		OrgID:         original.OrgID,
		EventType:     original.EventType,
		RequestBody:   original.RequestBody,
		AttemptNumber: 1,
		Status:        Pending,
		NextRetryAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	id, err := s.Repo.CreateDelivery(ctx, d)
	if err != nil {
		return Delivery{}, fmt.Errorf("creating redriven delivery: %w", err)
	}
	d.ID = id

	s.Logger.Info().
		Str("delivery_id", d.ID).
		Str("redriven_from", original.ID).
		Str("org_id", orgID).
		Msg("delivery redriven")

	return d, nil
}

// SendTest enqueues a webhook.test event and attempts it right away
func (s *Service) SendTest(ctx context.Context, orgID, webhookID string) (Delivery, Result, error) {
	data := map[string]string{
		"webhook_id": webhookID,
		"message":    "This is a test delivery",
	}

	d, err := s.Enqueue(ctx, orgID, webhookID, TestEventType, data)
	if err != nil {
		return Delivery{}, Result{}, err
	}

	res, err := s.Dispatch(ctx, d.Trigger())
	if err != nil {
		return d, Result{}, err
	}

	return d, res, nil
}

// PreviewRetries describes the retry schedule of an organization, without jitter
func (s *Service) PreviewRetries(ctx context.Context, orgID string) (RetryPreview, error) {
	policy, err := s.Policies.GetRetryPolicy(ctx, orgID)
	if err != nil {
		return RetryPreview{}, fmt.Errorf("getting retry policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return RetryPreview{}, err
	}

	p := policy.Preview()
	preview := RetryPreview{
		Policy:   policy,
		Delays:   make([]time.Duration, len(p.Delays)),
		Total:    backoff.Seconds(p.Total),
		MaxTotal: backoff.Seconds(p.MaxTotal),
	}
	for i, d := range p.Delays {
		preview.Delays[i] = backoff.Seconds(d)
	}

	return preview, nil
}

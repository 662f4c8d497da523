package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

/* Scheduler drives retries: every interval it lists due deliveries
 * and dispatches them with bounded concurrency.
 * Several schedulers may run at once, the claim inside Dispatch keeps each delivery single-flight.
 */

const (
	DefaultInterval    = 10 * time.Second
	DefaultBatchSize   = 100
	DefaultConcurrency = 10
)

// DueLister lists the deliveries ready for another attempt
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error)
}

// Dispatcher makes one attempt at a delivery
type Dispatcher interface {
	Dispatch(ctx context.Context, t webhook.Trigger) (webhook.Result, error)
}

// Heartbeater records that a scheduler is alive
type Heartbeater interface {
	SetWorkerHeartbeat(ctx context.Context, workerID, status string) error
}

// Stats summarizes one tick
type Stats struct {
	Due        int
	Dispatched int
	Skipped    int
	Failed     int
}

type Scheduler struct {
	repo        DueLister
	dispatcher  Dispatcher
	heartbeat   Heartbeater
	limiter     *rate.Limiter
	logger      zerolog.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
	workerID    string
	now         func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRateLimit caps dispatches per second across the whole scheduler, 0 disables it
func WithRateLimit(perSecond float64) Option {
	return func(s *Scheduler) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithHeartbeat(h Heartbeater) Option {
	return func(s *Scheduler) { s.heartbeat = h }
}

func WithWorkerID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.workerID = id
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(repo DueLister, dispatcher Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:        repo,
		dispatcher:  dispatcher,
		logger:      zerolog.Nop(),
		interval:    DefaultInterval,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		workerID:    "scheduler-" + uuid.NewString()[:8],
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("worker_id", s.workerID).Logger()
	return s
}

// WorkerID identifies this scheduler in heartbeats and logs
func (s *Scheduler) WorkerID() string {
	return s.workerID
}

/* Tick dispatches one batch of due deliveries
 * A dispatch error is counted, never returned: one broken delivery must not stall the rest.
 * Only listing failures and context cancellation end the tick with an error.
 */
func (s *Scheduler) Tick(ctx context.Context) (Stats, error) {
	due, err := s.repo.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("listing due deliveries: %w", err)
	}

	var dispatched, skipped, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, d := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return err
				}
			}

			_, err := s.dispatcher.Dispatch(ctx, d.Trigger())
			switch {
			case err == nil:
				dispatched.Add(1)
			case errors.Is(err, webhook.ErrDeliveryInFlight), errors.Is(err, webhook.ErrDeliveryNotDue):
				// another dispatcher holds it or already moved it past this tick
				skipped.Add(1)
			default:
				failed.Add(1)
				s.logger.Error().Err(err).
					Str("delivery_id", d.ID).
					Str("webhook_id", d.WebhookID).
					Str("org_id", d.OrgID).
					Msg("dispatching due delivery")
			}
			return nil
		})
	}

	err = g.Wait()
	stats := Stats{
		Due:        len(due),
		Dispatched: int(dispatched.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}
	if err != nil {
		return stats, fmt.Errorf("waiting for dispatch slot: %w", err)
	}
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}

	return stats, nil
}

// Run ticks every interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.interval).
		Int("batch_size", s.batchSize).
		Int("concurrency", s.concurrency).
		Msg("scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runTick(ctx)

		select {
		case <-ctx.Done():
			s.beat(context.WithoutCancel(ctx), "stopped")
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	s.beat(ctx, "dispatching")
	defer s.beat(ctx, "idle")

	start := time.Now()
	stats, err := s.Tick(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("scheduler tick")
		return
	}
	if stats.Due > 0 {
		s.logger.Info().
			Int("due", stats.Due).
			Int("dispatched", stats.Dispatched).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Dur("took", time.Since(start)).
			Msg("scheduler tick")
	}
}

func (s *Scheduler) beat(ctx context.Context, status string) {
	if s.heartbeat == nil || ctx.Err() != nil {
		return
	}
	if err := s.heartbeat.SetWorkerHeartbeat(ctx, s.workerID, status); err != nil {
		s.logger.Warn().Err(err).Msg("sending heartbeat")
	}
}

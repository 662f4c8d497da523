package metrics

import (
	"strconv"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeliveryMetrics counts attempts as they are recorded, it implements webhook.Observer
type DeliveryMetrics struct {
	Attempts *prometheus.CounterVec
	Resolved *prometheus.CounterVec
	Retries  prometheus.Counter
	Duration *prometheus.HistogramVec
}

// NewDeliveryMetrics creates and registers the delivery metrics on reg
func NewDeliveryMetrics(reg prometheus.Registerer, namespace string) *DeliveryMetrics {
	factory := promauto.With(reg)

	return &DeliveryMetrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total number of recorded delivery attempts",
		}, []string{"classification", "status_code"}),
		Resolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_resolved_total",
			Help:      "Total number of deliveries that reached a final status",
		}, []string{"status"}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retries_scheduled_total",
			Help:      "Total number of retries scheduled after a retryable failure",
		}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Duration of outbound delivery requests",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"classification"}),
	}
}

// ObserveAttempt implements webhook.Observer
func (m *DeliveryMetrics) ObserveAttempt(d webhook.Delivery, o webhook.Outcome) {
	class := o.Class.String()
	if o.Skipped {
		class = "skipped"
	}

	m.Attempts.WithLabelValues(class, strconv.Itoa(o.StatusCode)).Inc()
	if !o.Skipped {
		m.Duration.WithLabelValues(class).Observe(float64(o.DurationMs) / 1000)
	}

	switch {
	case d.Status.IsFinal():
		m.Resolved.WithLabelValues(d.Status.String()).Inc()
	case d.Status == webhook.Retrying:
		m.Retries.Inc()
	}
}

package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/rs/zerolog"
)

// RequestTimeout bounds every request, including the synchronous attempt made by /events and /test
const RequestTimeout = 60 * time.Second

// Handlers sets up the delivery API routes
func Handlers(ctx context.Context, service webhook.UseCase, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/dispatch", postDispatch(service, logger))

		r.Route("/orgs/{org_id}", func(r chi.Router) {
			r.Method(http.MethodPost, "/webhooks/{webhook_id}/events", postEvent(service, logger))
			r.Method(http.MethodPost, "/webhooks/{webhook_id}/test", postTest(service))
			r.Method(http.MethodGet, "/deliveries/{delivery_id}", getDelivery(service))
			r.Method(http.MethodGet, "/dlq", getDeadLetters(service))
			r.Method(http.MethodPost, "/dlq/{delivery_id}/redrive", postRedrive(service))
			r.Method(http.MethodGet, "/retry-policy/preview", getRetryPreview(service))
		})
	})

	return r
}

package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/rs/zerolog"
)

const (
	defaultDLQLimit = 100
	maxDLQLimit     = 1000
)

// decode reads a JSON body into v and validates it
func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return err
	}
	return nil
}

// postDispatch handles POST /v1/dispatch
func postDispatch(service webhook.UseCase, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		res, err := service.Dispatch(r.Context(), webhook.Trigger{
			DeliveryID: req.DeliveryID,
			WebhookID:  req.WebhookID,
			OrgID:      req.OrgID,
		})
		if err != nil {
			logger.Warn().Err(err).Str("delivery_id", req.DeliveryID).Msg("dispatch rejected")
			writeError(w, statusFor(err), err)
			return
		}

		writeJSON(w, http.StatusOK, resultResponse{Success: res.Success, Status: res.Status})
	})
}

/* postEvent handles POST /v1/orgs/{org_id}/webhooks/{webhook_id}/events
 * The delivery is created first, then attempted once. A failed attempt still answers 202:
 * the delivery exists and the scheduler owns it from there.
 */
func postEvent(service webhook.UseCase, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := chi.URLParam(r, "org_id")
		webhookID := chi.URLParam(r, "webhook_id")

		var req eventRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := payload.ValidateEventType(req.Type); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !json.Valid(req.Data) {
			writeError(w, http.StatusBadRequest, errors.New("data must be valid JSON"))
			return
		}

		d, err := service.Enqueue(r.Context(), orgID, webhookID, req.Type, req.Data)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		res, err := service.Dispatch(r.Context(), d.Trigger())
		if err != nil {
			logger.Warn().
				Err(err).
				Str("delivery_id", d.ID).
				Str("webhook_id", webhookID).
				Str("org_id", orgID).
				Msg("immediate attempt did not run, left to the scheduler")
		}

		writeJSON(w, http.StatusAccepted, eventResponse{
			DeliveryID: d.ID,
			Success:    res.Success,
			Status:     res.Status,
		})
	})
}

// postTest handles POST /v1/orgs/{org_id}/webhooks/{webhook_id}/test
func postTest(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, res, err := service.SendTest(r.Context(), chi.URLParam(r, "org_id"), chi.URLParam(r, "webhook_id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		writeJSON(w, http.StatusOK, eventResponse{
			DeliveryID: d.ID,
			Success:    res.Success,
			Status:     res.Status,
		})
	})
}

// getDelivery handles GET /v1/orgs/{org_id}/deliveries/{delivery_id}
func getDelivery(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := service.Get(r.Context(), chi.URLParam(r, "org_id"), chi.URLParam(r, "delivery_id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	})
}

// getDeadLetters handles GET /v1/orgs/{org_id}/dlq?limit=n
func getDeadLetters(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDLQLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxDLQLimit {
				writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxDLQLimit))
				return
			}
			limit = n
		}

		items, stats, err := service.ListDeadLetters(r.Context(), chi.URLParam(r, "org_id"), limit)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		resp := deadLettersResponse{
			Items: make([]deliveryResponse, 0, len(items)),
			Stats: deadLetterStats{
				Count:          stats.Count,
				Oldest:         optionalTime(stats.Oldest),
				UniqueWebhooks: stats.UniqueWebhooks,
			},
		}
		for _, d := range items {
			resp.Items = append(resp.Items, toDeliveryResponse(d))
		}

		writeJSON(w, http.StatusOK, resp)
	})
}

// postRedrive handles POST /v1/orgs/{org_id}/dlq/{delivery_id}/redrive
func postRedrive(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := service.Redrive(r.Context(), chi.URLParam(r, "org_id"), chi.URLParam(r, "delivery_id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, toDeliveryResponse(d))
	})
}

// getRetryPreview handles GET /v1/orgs/{org_id}/retry-policy/preview
func getRetryPreview(service webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := service.PreviewRetries(r.Context(), chi.URLParam(r, "org_id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, toPreviewResponse(p))
	})
}

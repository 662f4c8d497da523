package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a service error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, webhook.ErrDeliveryNotFound), errors.Is(err, webhook.ErrSubscriptionNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrDeliveryInFlight),
		errors.Is(err, webhook.ErrDeliveryNotDue),
		errors.Is(err, webhook.ErrDeliveryFinal),
		errors.Is(err, webhook.ErrNotRedrivable):
		return http.StatusConflict
	case webhook.IsConfigError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

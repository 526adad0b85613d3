package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

// resultCompletedHandler is the synchronous entry point for the diagnostic
// workflow; the AMQP consumer is the asynchronous one. Both feed the same
// bridge.
func resultCompletedHandler(bridge *scheduling.FeeBridge, defaultFee float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResultCompletedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.RequestID <= 0 || req.PatientID <= 0 || req.ProviderID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "request_id, patient_id and provider_id must be positive integers")
			return
		}

		fee := req.Fee
		if fee <= 0 {
			fee = defaultFee
		}
		completedAt := time.Now()
		if req.CompletedAt != nil {
			completedAt = *req.CompletedAt
		}

		err := bridge.OnResultCompleted(r.Context(), ActorFrom(r.Context()),
			req.RequestID, req.PatientID, req.ProviderID, fee, completedAt)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

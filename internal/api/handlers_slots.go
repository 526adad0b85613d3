package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func createSlotHandler(slots *scheduling.SlotManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		slot, err := slots.CreateSlot(r.Context(), ActorFrom(r.Context()), in)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func updateSlotHandler(slots *scheduling.SlotManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a positive integer")
			return
		}

		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		if err := slots.UpdateSlot(r.Context(), ActorFrom(r.Context()), id, in); err != nil {
			writeEngineError(w, err)
			return
		}

		slot, err := slots.GetSlot(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func cancelSlotHandler(slots *scheduling.SlotManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a positive integer")
			return
		}

		if err := slots.CancelSlot(r.Context(), ActorFrom(r.Context()), id); err != nil {
			writeEngineError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getSlotHandler(slots *scheduling.SlotManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a positive integer")
			return
		}

		slot, err := slots.GetSlot(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

// listSlotsHandler serves GET /slots?provider_id=N and GET /slots?available=true.
func listSlotsHandler(slots *scheduling.SlotManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			result []scheduling.Slot
			err    error
		)

		if providerStr := r.URL.Query().Get("provider_id"); providerStr != "" {
			providerID, perr := strconv.ParseInt(providerStr, 10, 64)
			if perr != nil || providerID <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a positive integer")
				return
			}
			result, err = slots.SlotsByProvider(r.Context(), providerID)
		} else {
			result, err = slots.AvailableSlots(r.Context())
		}
		if err != nil {
			writeEngineError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(result))
		for i := range result {
			resp = append(resp, toSlotResponse(&result[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

// createBookingHandler books the patient and materializes the invoice in the
// same request. A failed invoice creation does not undo the booking; it is
// logged and the booking is returned without one.
func createBookingHandler(engine *scheduling.BookingEngine, ledger *scheduling.InvoiceLedger, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.SlotID <= 0 || req.PatientID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "slot_id and patient_id must be positive integers")
			return
		}

		actor := ActorFrom(r.Context())

		booking, err := engine.Book(r.Context(), actor, req.SlotID, req.PatientID)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		resp := toBookingResponse(booking)

		inv, err := ledger.CreateForBooking(r.Context(), actor, booking.ID)
		if err != nil {
			log.Warn().Err(err).Int64("booking_id", booking.ID).Msg("invoice creation failed after booking")
		} else {
			invResp := toInvoiceResponse(inv)
			resp.Invoice = &invResp
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}

func cancelBookingHandler(engine *scheduling.BookingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a positive integer")
			return
		}

		if err := engine.Cancel(r.Context(), ActorFrom(r.Context()), id); err != nil {
			writeEngineError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func markArrivedHandler(engine *scheduling.BookingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a positive integer")
			return
		}

		if err := engine.MarkArrived(r.Context(), ActorFrom(r.Context()), id); err != nil {
			writeEngineError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func markNoShowHandler(engine *scheduling.BookingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a positive integer")
			return
		}

		if err := engine.MarkNoShow(r.Context(), ActorFrom(r.Context()), id); err != nil {
			writeEngineError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getBookingHandler(engine *scheduling.BookingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a positive integer")
			return
		}

		booking, err := engine.GetBooking(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(booking))
	}
}

// listBookingsHandler serves GET /bookings?patient_id=N, newest first.
func listBookingsHandler(engine *scheduling.BookingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := strconv.ParseInt(r.URL.Query().Get("patient_id"), 10, 64)
		if err != nil || patientID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a positive integer")
			return
		}

		bookings, err := engine.BookingsForPatient(r.Context(), patientID)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		resp := make([]BookingResponse, 0, len(bookings))
		for i := range bookings {
			resp = append(resp, toBookingResponse(&bookings[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// listSlotBookingsHandler serves GET /slots/{id}/bookings ordered by order
// number.
func listSlotBookingsHandler(engine *scheduling.BookingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a positive integer")
			return
		}

		bookings, err := engine.BookingsForSlot(r.Context(), slotID)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		resp := make([]BookingResponse, 0, len(bookings))
		for i := range bookings {
			resp = append(resp, toBookingResponse(&bookings[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

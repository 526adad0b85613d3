package api

import (
	"net/http"
	"strconv"

	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

func createInvoiceHandler(ledger *scheduling.InvoiceLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookingID, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a positive integer")
			return
		}

		inv, err := ledger.CreateForBooking(r.Context(), ActorFrom(r.Context()), bookingID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toInvoiceResponse(inv))
	}
}

func getInvoiceHandler(ledger *scheduling.InvoiceLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_invoice_id", "id must be a positive integer")
			return
		}

		inv, err := ledger.GetInvoice(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
	}
}

func markInvoicePaidHandler(ledger *scheduling.InvoiceLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_invoice_id", "id must be a positive integer")
			return
		}

		if err := ledger.MarkPaid(r.Context(), ActorFrom(r.Context()), id); err != nil {
			writeEngineError(w, err)
			return
		}

		inv, err := ledger.GetInvoice(r.Context(), id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
	}
}

// listInvoicesHandler serves GET /invoices?patient_id=N, newest first.
func listInvoicesHandler(ledger *scheduling.InvoiceLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := strconv.ParseInt(r.URL.Query().Get("patient_id"), 10, 64)
		if err != nil || patientID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a positive integer")
			return
		}

		invoices, err := ledger.InvoicesForPatient(r.Context(), patientID)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		resp := make([]InvoiceResponse, 0, len(invoices))
		for i := range invoices {
			resp = append(resp, toInvoiceResponse(&invoices[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

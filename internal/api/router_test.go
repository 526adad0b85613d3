package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

// inlineLocker runs callbacks without any distributed coordination; the
// in-memory store serializes transactions on its own.
type inlineLocker struct{}

func (inlineLocker) WithSlotLock(ctx context.Context, _ int64, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (inlineLocker) WithScheduleLock(ctx context.Context, _ int64, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type apiTestEnv struct {
	server  *httptest.Server
	store   *scheduling.MemoryStore
	patient int64
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()

	store := scheduling.NewMemoryStore()
	log := zerolog.Nop()
	locker := inlineLocker{}

	slots := scheduling.NewSlotManager(store, locker, log)
	bookings := scheduling.NewBookingEngine(store, locker, log)
	ledger := scheduling.NewInvoiceLedger(store, log)
	bookings.SetObserver(ledger)
	bridge := scheduling.NewFeeBridge(store, ledger, log)

	router := NewRouter(RouterConfig{
		Slots:      slots,
		Bookings:   bookings,
		Ledger:     ledger,
		Bridge:     bridge,
		DefaultFee: 500,
		Logger:     log,
		Env:        "test",
		Version:    "test",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	store.AddProvider("Dr. Reed")
	patient := store.AddPatient("Alex Mason")

	return &apiTestEnv{server: srv, store: store, patient: patient.ID}
}

func (e *apiTestEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func receptionistHeaders() map[string]string {
	return map[string]string{
		"X-Actor-ID":   "900",
		"X-Actor-Role": "receptionist",
	}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func slotBody(start, end string, capacity int) map[string]any {
	return map[string]any{
		"provider_id": 1,
		"date":        time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"),
		"start_time":  start,
		"end_time":    end,
		"capacity":    capacity,
		"unit_price":  100,
	}
}

func TestActorRequired(t *testing.T) {
	env := newAPITestEnv(t)

	t.Run("NoHeaders", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/slots", nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
		body := decodeBody[ErrorResponse](t, resp)
		if body.Error != "missing_actor" {
			t.Errorf("error = %q, want missing_actor", body.Error)
		}
	})

	t.Run("UnknownRole", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/slots", nil, map[string]string{
			"X-Actor-ID":   "900",
			"X-Actor-Role": "janitor",
		})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestSlotEndpoints(t *testing.T) {
	env := newAPITestEnv(t)

	var created SlotResponse

	t.Run("Create", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/slots", slotBody("09:00", "10:00", 2), receptionistHeaders())
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		created = decodeBody[SlotResponse](t, resp)
		if created.Status != "available" {
			t.Errorf("status = %q, want available", created.Status)
		}
		if created.StartTime != "09:00" {
			t.Errorf("start_time = %q, want 09:00", created.StartTime)
		}
	})

	t.Run("OverlapConflict", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/slots", slotBody("09:30", "10:30", 2), receptionistHeaders())
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
		body := decodeBody[ErrorResponse](t, resp)
		if body.Error != "slot_overlap" {
			t.Errorf("error = %q, want slot_overlap", body.Error)
		}
	})

	t.Run("InvalidCapacity", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/slots", slotBody("11:00", "12:00", 0), receptionistHeaders())
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("GetUnknown", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/slots/9999", nil, receptionistHeaders())
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("ListAvailable", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/slots", nil, receptionistHeaders())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		list := decodeBody[[]SlotResponse](t, resp)
		if len(list) != 1 {
			t.Fatalf("slots = %d, want 1", len(list))
		}
		if list[0].ID != created.ID {
			t.Errorf("id = %d, want %d", list[0].ID, created.ID)
		}
	})
}

func TestBookingFlow(t *testing.T) {
	env := newAPITestEnv(t)

	resp := env.do(t, http.MethodPost, "/slots", slotBody("09:00", "10:00", 1), receptionistHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create slot status = %d, want 201", resp.StatusCode)
	}
	slot := decodeBody[SlotResponse](t, resp)

	bookingReq := map[string]any{"slot_id": slot.ID, "patient_id": env.patient}

	var booking BookingResponse

	t.Run("BookWithInvoice", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/bookings", bookingReq, receptionistHeaders())
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		booking = decodeBody[BookingResponse](t, resp)
		if booking.OrderNumber != 1 {
			t.Errorf("order_number = %d, want 1", booking.OrderNumber)
		}
		if booking.Invoice == nil {
			t.Fatal("expected embedded invoice")
		}
		if booking.Invoice.TotalAmount != 100 {
			t.Errorf("invoice total = %v, want 100", booking.Invoice.TotalAmount)
		}
	})

	t.Run("SlotNowFull", func(t *testing.T) {
		other := env.store.AddPatient("Quinn Park")
		req := map[string]any{"slot_id": slot.ID, "patient_id": other.ID}
		resp := env.do(t, http.MethodPost, "/bookings", req, receptionistHeaders())
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
		body := decodeBody[ErrorResponse](t, resp)
		if body.Error != "slot_not_bookable" {
			t.Errorf("error = %q, want slot_not_bookable", body.Error)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		path := fmt.Sprintf("/bookings/%d/cancel", booking.ID)
		resp := env.do(t, http.MethodPost, path, nil, receptionistHeaders())
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", resp.StatusCode)
		}
		resp.Body.Close()

		resp = env.do(t, http.MethodPost, path, nil, receptionistHeaders())
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("repeat cancel status = %d, want 409", resp.StatusCode)
		}
		body := decodeBody[ErrorResponse](t, resp)
		if body.Error != "not_cancellable" {
			t.Errorf("error = %q, want not_cancellable", body.Error)
		}
	})

	t.Run("InvoiceCancelledWithBooking", func(t *testing.T) {
		path := fmt.Sprintf("/invoices/%d", booking.Invoice.ID)
		resp := env.do(t, http.MethodGet, path, nil, receptionistHeaders())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		inv := decodeBody[InvoiceResponse](t, resp)
		if inv.Status != "cancelled" {
			t.Errorf("invoice status = %q, want cancelled", inv.Status)
		}
	})
}

func TestDiagnosticResultEndpoint(t *testing.T) {
	env := newAPITestEnv(t)

	resp := env.do(t, http.MethodPost, "/slots", slotBody("09:00", "10:00", 2), receptionistHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create slot status = %d, want 201", resp.StatusCode)
	}
	slot := decodeBody[SlotResponse](t, resp)

	resp = env.do(t, http.MethodPost, "/bookings", map[string]any{"slot_id": slot.ID, "patient_id": env.patient}, receptionistHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book status = %d, want 201", resp.StatusCode)
	}
	booking := decodeBody[BookingResponse](t, resp)

	radiologist := map[string]string{"X-Actor-ID": "910", "X-Actor-Role": "radiologist"}
	completedAt := time.Now().Add(time.Hour)

	t.Run("DefaultFeeApplied", func(t *testing.T) {
		req := map[string]any{
			"request_id":   1,
			"patient_id":   env.patient,
			"provider_id":  slot.ProviderID,
			"completed_at": completedAt,
		}
		resp := env.do(t, http.MethodPost, "/diagnostics/results/completed", req, radiologist)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", resp.StatusCode)
		}
		resp.Body.Close()

		path := fmt.Sprintf("/invoices/%d", booking.Invoice.ID)
		resp = env.do(t, http.MethodGet, path, nil, receptionistHeaders())
		inv := decodeBody[InvoiceResponse](t, resp)
		if inv.TotalAmount != 600 {
			t.Errorf("total = %v, want consultation 100 plus default fee 500", inv.TotalAmount)
		}
	})

	t.Run("MissingIDsRejected", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/diagnostics/results/completed", map[string]any{"request_id": 2}, radiologist)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

package api

import (
	"fmt"
	"time"

	"github.com/clinicware/clinic-scheduling/internal/scheduling"
)

type CreateSlotRequest struct {
	ProviderID int64   `json:"provider_id"`
	Date       string  `json:"date"`       // YYYY-MM-DD
	StartTime  string  `json:"start_time"` // HH:MM
	EndTime    string  `json:"end_time"`   // HH:MM
	Capacity   int     `json:"capacity"`
	UnitPrice  float64 `json:"unit_price"`
}

func (req *CreateSlotRequest) toInput() (scheduling.SlotInput, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return scheduling.SlotInput{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	start, err := parseClock(req.StartTime)
	if err != nil {
		return scheduling.SlotInput{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := parseClock(req.EndTime)
	if err != nil {
		return scheduling.SlotInput{}, fmt.Errorf("end_time: %w", err)
	}
	return scheduling.SlotInput{
		ProviderID: req.ProviderID,
		Date:       date,
		StartTime:  start,
		EndTime:    end,
		Capacity:   req.Capacity,
		UnitPrice:  req.UnitPrice,
	}, nil
}

// parseClock converts "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("must be HH:MM: %w", err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

type SlotResponse struct {
	ID          int64   `json:"id"`
	ProviderID  int64   `json:"provider_id"`
	Date        string  `json:"date"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Capacity    int     `json:"capacity"`
	BookedCount int     `json:"booked_count"`
	UnitPrice   float64 `json:"unit_price"`
	Status      string  `json:"status"`
}

func toSlotResponse(s *scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		ProviderID:  s.ProviderID,
		Date:        s.Date.Format("2006-01-02"),
		StartTime:   formatClock(s.StartTime),
		EndTime:     formatClock(s.EndTime),
		Capacity:    s.Capacity,
		BookedCount: s.BookedCount,
		UnitPrice:   s.UnitPrice,
		Status:      string(s.Status),
	}
}

type CreateBookingRequest struct {
	SlotID    int64 `json:"slot_id"`
	PatientID int64 `json:"patient_id"`
}

type BookingResponse struct {
	ID          int64            `json:"id"`
	SlotID      int64            `json:"slot_id"`
	PatientID   int64            `json:"patient_id"`
	OrderNumber int              `json:"order_number"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	Invoice     *InvoiceResponse `json:"invoice,omitempty"`
}

func toBookingResponse(b *scheduling.Booking) BookingResponse {
	return BookingResponse{
		ID:          b.ID,
		SlotID:      b.SlotID,
		PatientID:   b.PatientID,
		OrderNumber: b.OrderNumber,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
	}
}

type InvoiceLineResponse struct {
	Title  string  `json:"title"`
	Amount float64 `json:"amount"`
}

type InvoiceResponse struct {
	ID          int64                 `json:"id"`
	BookingID   int64                 `json:"booking_id"`
	Lines       []InvoiceLineResponse `json:"lines"`
	TotalAmount float64               `json:"total_amount"`
	Status      string                `json:"status"`
}

func toInvoiceResponse(inv *scheduling.Invoice) InvoiceResponse {
	lines := make([]InvoiceLineResponse, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, InvoiceLineResponse{Title: l.Title, Amount: l.Amount})
	}
	return InvoiceResponse{
		ID:          inv.ID,
		BookingID:   inv.BookingID,
		Lines:       lines,
		TotalAmount: inv.TotalAmount,
		Status:      string(inv.Status),
	}
}

type ResultCompletedRequest struct {
	RequestID  int64   `json:"request_id"`
	PatientID  int64   `json:"patient_id"`
	ProviderID int64   `json:"provider_id"`
	Fee        float64 `json:"fee"`
	// CompletedAt is optional; the current time is used when absent.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

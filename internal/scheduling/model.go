package scheduling

import (
	"time"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotFull      SlotStatus = "full"
	SlotCancelled SlotStatus = "cancelled"
)

type BookingStatus string

const (
	BookingBooked    BookingStatus = "booked"
	BookingCancelled BookingStatus = "cancelled"
	BookingArrived   BookingStatus = "arrived"
	BookingNoShow    BookingStatus = "no_show"
)

type InvoiceStatus string

const (
	InvoiceNotBilled InvoiceStatus = "not_billed"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
	InvoiceAdjusted  InvoiceStatus = "adjusted"
)

type Provider struct {
	ID        int64
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        int64
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a bookable time window for one provider on one calendar day.
// Date is midnight UTC; StartTime/EndTime are offsets from midnight.
type Slot struct {
	ID          int64
	ProviderID  int64
	Date        time.Time
	StartTime   time.Duration
	EndTime     time.Duration
	Capacity    int
	BookedCount int
	UnitPrice   float64
	Status      SlotStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StartAt returns the absolute instant the slot begins.
func (s *Slot) StartAt() time.Time {
	return s.Date.Add(s.StartTime)
}

// EndAt returns the absolute instant the slot ends.
func (s *Slot) EndAt() time.Time {
	return s.Date.Add(s.EndTime)
}

// Overlaps reports whether two [start, end) windows intersect.
// Touching windows (aEnd == bStart) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Duration) bool {
	return !(aEnd <= bStart || aStart >= bEnd)
}

// Booking is one patient's claim on one slot. OrderNumber is unique within
// the slot and assigned in strictly increasing order, never reused.
type Booking struct {
	ID          int64
	SlotID      int64
	PatientID   int64
	OrderNumber int
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type InvoiceLine struct {
	ID        int64
	InvoiceID int64
	Position  int
	Title     string
	Amount    float64
}

// Invoice is the 1:1 billing record for a booking. TotalAmount always equals
// the sum of its lines.
type Invoice struct {
	ID          int64
	BookingID   int64
	Lines       []InvoiceLine
	TotalAmount float64
	Status      InvoiceStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SumLines recomputes the invoice total from its lines.
func (i *Invoice) SumLines() float64 {
	var total float64
	for _, l := range i.Lines {
		total += l.Amount
	}
	return total
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *int64
	Payload   []byte
	CreatedAt time.Time
}

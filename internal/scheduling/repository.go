package scheduling

import (
	"context"
	"time"
)

// Repository contains all DB interactions needed by the engine. Methods
// suffixed ForUpdate acquire a row-level write lock and are only valid inside
// a Store.WithTx callback.
type Repository interface {
	GetProviderByID(ctx context.Context, id int64) (*Provider, error)
	GetPatientByID(ctx context.Context, id int64) (*Patient, error)

	CreateSlot(ctx context.Context, s *Slot) error
	GetSlotByID(ctx context.Context, id int64) (*Slot, error)
	GetSlotForUpdate(ctx context.Context, id int64) (*Slot, error)
	UpdateSlot(ctx context.Context, s *Slot) error
	// HasOverlappingSlot reports whether any non-cancelled slot for the
	// provider on the given day intersects [start, end). excludeID skips the
	// slot being updated; pass 0 when creating.
	HasOverlappingSlot(ctx context.Context, providerID int64, date time.Time, start, end time.Duration, excludeID int64) (bool, error)
	ListSlotsByProvider(ctx context.Context, providerID int64) ([]Slot, error)
	ListAvailableSlots(ctx context.Context, from time.Time) ([]Slot, error)

	CreateBooking(ctx context.Context, b *Booking) error
	GetBookingByID(ctx context.Context, id int64) (*Booking, error)
	GetBookingForUpdate(ctx context.Context, id int64) (*Booking, error)
	HasActiveBooking(ctx context.Context, slotID, patientID int64) (bool, error)
	// NextOrderNumber returns max(order_number)+1 for the slot. Order numbers
	// are never reused, even after cancellations.
	NextOrderNumber(ctx context.Context, slotID int64) (int, error)
	UpdateBookingStatus(ctx context.Context, id int64, from, to BookingStatus) (*Booking, error)
	ListBookingsForSlot(ctx context.Context, slotID int64) ([]Booking, error)
	ListBookingsForPatient(ctx context.Context, patientID int64) ([]Booking, error)
	// LatestActiveBooking returns the most recent Booked booking for the
	// patient with the given provider created at or before the given instant.
	LatestActiveBooking(ctx context.Context, patientID, providerID int64, at time.Time) (*Booking, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoiceByID(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByIDForUpdate(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByBooking(ctx context.Context, bookingID int64) (*Invoice, error)
	GetInvoiceByBookingForUpdate(ctx context.Context, bookingID int64) (*Invoice, error)
	AppendInvoiceLine(ctx context.Context, invoiceID int64, line InvoiceLine) error
	UpdateInvoiceBilling(ctx context.Context, invoiceID int64, total float64, status InvoiceStatus) error
	ListInvoicesForPatient(ctx context.Context, patientID int64) ([]Invoice, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is a Repository that can open an atomic transaction scope. All reads
// and writes performed through the Repository passed to fn commit or roll
// back together.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(r Repository) error) error
}

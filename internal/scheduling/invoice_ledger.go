package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/identity"
)

const consultationLineTitle = "Consultation"

// InvoiceLedger owns invoice creation and fee accrual. Invoice lines, totals
// and status are mutated only here. The total is always recomputed from the
// lines, never adjusted incrementally.
type InvoiceLedger struct {
	store Store
	log   zerolog.Logger
}

func NewInvoiceLedger(store Store, log zerolog.Logger) *InvoiceLedger {
	return &InvoiceLedger{
		store: store,
		log:   log.With().Str("component", "invoice_ledger").Logger(),
	}
}

// CreateForBooking materializes the 1:1 invoice for an active booking, seeded
// with a consultation line at the slot's unit price.
func (l *InvoiceLedger) CreateForBooking(ctx context.Context, actor identity.Actor, bookingID int64) (*Invoice, error) {
	var created *Invoice

	err := l.store.WithTx(ctx, func(r Repository) error {
		inv, err := l.createForBooking(ctx, r, actor, bookingID)
		if err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// createForBooking runs inside an existing transaction so the fee bridge can
// create and accrue atomically.
func (l *InvoiceLedger) createForBooking(ctx context.Context, r Repository, actor identity.Actor, bookingID int64) (*Invoice, error) {
	booking, err := r.GetBookingForUpdate(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if _, err := r.GetInvoiceByBooking(ctx, bookingID); err == nil {
		return nil, ErrAlreadyInvoiced
	} else if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, fmt.Errorf("check existing invoice: %w", err)
	}

	if booking.Status != BookingBooked {
		return nil, ErrBookingNotActive
	}

	slot, err := r.GetSlotByID(ctx, booking.SlotID)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		BookingID:   bookingID,
		Lines:       []InvoiceLine{{Title: consultationLineTitle, Amount: slot.UnitPrice}},
		TotalAmount: slot.UnitPrice,
		Status:      InvoiceNotBilled,
	}
	if err := r.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	logEvent(ctx, r, l.log, &bookingID, EventInvoiceCreated, map[string]any{
		"invoice_id": inv.ID,
		"amount":     inv.TotalAmount,
		"actor":      actor.String(),
	})
	return inv, nil
}

// AccrueFee appends a line to the booking's invoice. Returns false when the
// invoice is cancelled: billing for a cancelled visit is never resurrected,
// and the fee is dropped without error. A fee landing on a paid invoice marks
// it Adjusted instead of silently rewriting a settled total.
func (l *InvoiceLedger) AccrueFee(ctx context.Context, actor identity.Actor, bookingID int64, title string, amount float64) (bool, error) {
	applied := false

	err := l.store.WithTx(ctx, func(r Repository) error {
		ok, err := l.accrueFee(ctx, r, actor, bookingID, title, amount)
		if err != nil {
			return err
		}
		applied = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (l *InvoiceLedger) accrueFee(ctx context.Context, r Repository, actor identity.Actor, bookingID int64, title string, amount float64) (bool, error) {
	inv, err := r.GetInvoiceByBookingForUpdate(ctx, bookingID)
	if err != nil {
		return false, err
	}

	if inv.Status == InvoiceCancelled {
		l.log.Info().
			Int64("booking_id", bookingID).
			Float64("amount", amount).
			Msg("fee dropped: invoice is cancelled")
		return false, nil
	}

	line := InvoiceLine{Title: title, Amount: amount}
	if err := r.AppendInvoiceLine(ctx, inv.ID, line); err != nil {
		return false, err
	}
	inv.Lines = append(inv.Lines, line)

	status := inv.Status
	if status == InvoicePaid {
		status = InvoiceAdjusted
	}
	if err := r.UpdateInvoiceBilling(ctx, inv.ID, inv.SumLines(), status); err != nil {
		return false, err
	}

	logEvent(ctx, r, l.log, &bookingID, EventFeeAccrued, map[string]any{
		"invoice_id": inv.ID,
		"title":      title,
		"amount":     amount,
		"actor":      actor.String(),
	})
	return true, nil
}

// MarkPaid sets the invoice to Paid unconditionally. Reconciliation against
// the outstanding amount is out of scope. The invoice row is locked and the
// total recomputed from its lines, so a concurrently committed fee can never
// be overwritten with a stale total.
func (l *InvoiceLedger) MarkPaid(ctx context.Context, actor identity.Actor, invoiceID int64) error {
	return l.store.WithTx(ctx, func(r Repository) error {
		inv, err := r.GetInvoiceByIDForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}

		if err := r.UpdateInvoiceBilling(ctx, inv.ID, inv.SumLines(), InvoicePaid); err != nil {
			return err
		}

		logEvent(ctx, r, l.log, &inv.BookingID, EventInvoicePaid, map[string]any{
			"invoice_id": inv.ID,
			"total":      inv.SumLines(),
			"actor":      actor.String(),
		})
		return nil
	})
}

// OnBookingCancelled runs inside the booking engine's cancel transaction. The
// invoice keeps its lines and total as a historical record; only its status
// moves to Cancelled. A booking without an invoice is fine.
func (l *InvoiceLedger) OnBookingCancelled(ctx context.Context, r Repository, bookingID int64) error {
	inv, err := r.GetInvoiceByBookingForUpdate(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return nil
		}
		return err
	}

	return r.UpdateInvoiceBilling(ctx, inv.ID, inv.TotalAmount, InvoiceCancelled)
}

// GetInvoice returns one invoice with its lines.
func (l *InvoiceLedger) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	return l.store.GetInvoiceByID(ctx, invoiceID)
}

// InvoiceForBooking returns the invoice attached to a booking, if any.
func (l *InvoiceLedger) InvoiceForBooking(ctx context.Context, bookingID int64) (*Invoice, error) {
	return l.store.GetInvoiceByBooking(ctx, bookingID)
}

// InvoicesForPatient lists a patient's invoices, newest first.
func (l *InvoiceLedger) InvoicesForPatient(ctx context.Context, patientID int64) ([]Invoice, error) {
	return l.store.ListInvoicesForPatient(ctx, patientID)
}

package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResultFeeLandsOnExistingInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 100)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	inv, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID)
	if err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}

	completedAt := time.Now().Add(time.Hour)
	if err := env.bridge.OnResultCompleted(ctx, testRadiologist, 1, env.patient.ID, env.provider.ID, 500, completedAt); err != nil {
		t.Fatalf("OnResultCompleted: %v", err)
	}

	got, err := env.ledger.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.TotalAmount != 600 {
		t.Errorf("total = %v, want 600", got.TotalAmount)
	}
	if len(got.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(got.Lines))
	}
	if got.Lines[1].Amount != 500 {
		t.Errorf("diagnostic line = %v, want 500", got.Lines[1].Amount)
	}
	if got.Status != InvoiceNotBilled {
		t.Errorf("status = %q, want %q", got.Status, InvoiceNotBilled)
	}

	t.Run("SecondFeeOnPaidInvoice", func(t *testing.T) {
		if err := env.ledger.MarkPaid(ctx, testReceptionist, inv.ID); err != nil {
			t.Fatalf("MarkPaid: %v", err)
		}

		if err := env.bridge.OnResultCompleted(ctx, testRadiologist, 2, env.patient.ID, env.provider.ID, 500, completedAt); err != nil {
			t.Fatalf("OnResultCompleted: %v", err)
		}

		got, err := env.ledger.GetInvoice(ctx, inv.ID)
		if err != nil {
			t.Fatalf("GetInvoice: %v", err)
		}
		if got.TotalAmount != 1100 {
			t.Errorf("total = %v, want 1100", got.TotalAmount)
		}
		if got.Status != InvoiceAdjusted {
			t.Errorf("status = %q, want %q", got.Status, InvoiceAdjusted)
		}
	})
}

func TestResultFeeCreatesInvoiceLazily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 100)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	completedAt := time.Now().Add(time.Hour)
	if err := env.bridge.OnResultCompleted(ctx, testRadiologist, 1, env.patient.ID, env.provider.ID, 500, completedAt); err != nil {
		t.Fatalf("OnResultCompleted: %v", err)
	}

	inv, err := env.ledger.InvoiceForBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("InvoiceForBooking: %v", err)
	}
	// Consultation line seeded at the slot price, then the diagnostic fee.
	if len(inv.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(inv.Lines))
	}
	if inv.TotalAmount != 600 {
		t.Errorf("total = %v, want 600", inv.TotalAmount)
	}
}

func TestResultFeeWithNoMatchingBookingIsDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.bridge.OnResultCompleted(ctx, testRadiologist, 1, env.patient.ID, env.provider.ID, 500, time.Now()); err != nil {
		t.Fatalf("OnResultCompleted: %v", err)
	}

	invoices, err := env.ledger.InvoicesForPatient(ctx, env.patient.ID)
	if err != nil {
		t.Fatalf("InvoicesForPatient: %v", err)
	}
	if len(invoices) != 0 {
		t.Errorf("invoices = %d, want 0", len(invoices))
	}
	if !hasEvent(env.store.Events(), EventFeeDropped) {
		t.Error("expected FEE_DROPPED event")
	}
}

func TestResultFeePicksLatestActiveBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.mustCreateSlot(t, 2, 100)
	in := env.slotInput(11*time.Hour, 12*time.Hour, 2, 100)
	second, err := env.slots.CreateSlot(ctx, testReceptionist, in)
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	b1 := env.mustBook(t, first.ID, env.patient.ID)
	time.Sleep(2 * time.Millisecond)
	b2 := env.mustBook(t, second.ID, env.patient.ID)

	completedAt := time.Now().Add(time.Hour)
	if err := env.bridge.OnResultCompleted(ctx, testRadiologist, 1, env.patient.ID, env.provider.ID, 500, completedAt); err != nil {
		t.Fatalf("OnResultCompleted: %v", err)
	}

	if _, err := env.ledger.InvoiceForBooking(ctx, b1.ID); !errors.Is(err, ErrInvoiceNotFound) {
		t.Errorf("older booking invoiced: err = %v, want ErrInvoiceNotFound", err)
	}
	if _, err := env.ledger.InvoiceForBooking(ctx, b2.ID); err != nil {
		t.Errorf("latest booking not invoiced: %v", err)
	}
}

func TestResultFeeOnCancelledVisit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 100)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	inv, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID)
	if err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}
	if err := env.bookings.Cancel(ctx, testReceptionist, booking.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// The booking is no longer active, so the fee finds no visit to bill.
	if err := env.bridge.OnResultCompleted(ctx, testRadiologist, 1, env.patient.ID, env.provider.ID, 500, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("OnResultCompleted: %v", err)
	}

	got, err := env.ledger.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.TotalAmount != 100 {
		t.Errorf("total = %v, want the untouched 100", got.TotalAmount)
	}
	if got.Status != InvoiceCancelled {
		t.Errorf("status = %q, want %q", got.Status, InvoiceCancelled)
	}
}

package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestCreateInvoiceForBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 150)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	inv, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID)
	if err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}

	if inv.Status != InvoiceNotBilled {
		t.Errorf("status = %q, want %q", inv.Status, InvoiceNotBilled)
	}
	if len(inv.Lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(inv.Lines))
	}
	if inv.Lines[0].Amount != 150 {
		t.Errorf("line amount = %v, want slot unit price 150", inv.Lines[0].Amount)
	}
	if inv.TotalAmount != inv.SumLines() {
		t.Errorf("total = %v, sum of lines = %v", inv.TotalAmount, inv.SumLines())
	}
	if !hasEvent(env.store.Events(), EventInvoiceCreated) {
		t.Error("expected INVOICE_CREATED event")
	}

	t.Run("SecondCreateRejected", func(t *testing.T) {
		if _, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID); !errors.Is(err, ErrAlreadyInvoiced) {
			t.Fatalf("err = %v, want ErrAlreadyInvoiced", err)
		}
	})

	t.Run("UnknownBooking", func(t *testing.T) {
		if _, err := env.ledger.CreateForBooking(ctx, testReceptionist, 9999); !errors.Is(err, ErrBookingNotFound) {
			t.Fatalf("err = %v, want ErrBookingNotFound", err)
		}
	})
}

func TestCreateInvoiceRequiresActiveBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 150)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	if err := env.bookings.Cancel(ctx, testReceptionist, booking.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID); !errors.Is(err, ErrBookingNotActive) {
		t.Fatalf("err = %v, want ErrBookingNotActive", err)
	}
}

func TestAccrueFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 100)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	inv, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID)
	if err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}

	t.Run("AppendsLineAndRecomputesTotal", func(t *testing.T) {
		applied, err := env.ledger.AccrueFee(ctx, testRadiologist, booking.ID, "X-ray", 500)
		if err != nil {
			t.Fatalf("AccrueFee: %v", err)
		}
		if !applied {
			t.Fatal("expected fee to be applied")
		}

		got, err := env.ledger.GetInvoice(ctx, inv.ID)
		if err != nil {
			t.Fatalf("GetInvoice: %v", err)
		}
		if len(got.Lines) != 2 {
			t.Fatalf("lines = %d, want 2", len(got.Lines))
		}
		if got.TotalAmount != 600 {
			t.Errorf("total = %v, want 600", got.TotalAmount)
		}
		if got.Status != InvoiceNotBilled {
			t.Errorf("status = %q, want %q", got.Status, InvoiceNotBilled)
		}
	})

	t.Run("FeeOnPaidInvoiceMarksAdjusted", func(t *testing.T) {
		if err := env.ledger.MarkPaid(ctx, testReceptionist, inv.ID); err != nil {
			t.Fatalf("MarkPaid: %v", err)
		}

		applied, err := env.ledger.AccrueFee(ctx, testRadiologist, booking.ID, "MRI", 900)
		if err != nil {
			t.Fatalf("AccrueFee: %v", err)
		}
		if !applied {
			t.Fatal("expected fee to be applied")
		}

		got, err := env.ledger.GetInvoice(ctx, inv.ID)
		if err != nil {
			t.Fatalf("GetInvoice: %v", err)
		}
		if got.Status != InvoiceAdjusted {
			t.Errorf("status = %q, want %q", got.Status, InvoiceAdjusted)
		}
		if got.TotalAmount != 1500 {
			t.Errorf("total = %v, want 1500", got.TotalAmount)
		}
	})

	t.Run("NoInvoice", func(t *testing.T) {
		other := env.store.AddPatient("Quinn Park")
		b := env.mustBook(t, slot.ID, other.ID)
		if _, err := env.ledger.AccrueFee(ctx, testRadiologist, b.ID, "X-ray", 500); !errors.Is(err, ErrInvoiceNotFound) {
			t.Fatalf("err = %v, want ErrInvoiceNotFound", err)
		}
	})
}

func TestMarkPaidKeepsTotalInSyncWithLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 100)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	inv, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID)
	if err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}

	// Fees and payment racing on the same invoice must never leave the total
	// behind the lines.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.ledger.AccrueFee(ctx, testRadiologist, booking.ID, "X-ray", 50); err != nil {
				t.Errorf("AccrueFee: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.ledger.MarkPaid(ctx, testReceptionist, inv.ID); err != nil {
				t.Errorf("MarkPaid: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := env.ledger.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.TotalAmount != got.SumLines() {
		t.Errorf("total = %v, sum of lines = %v", got.TotalAmount, got.SumLines())
	}
	if got.TotalAmount != 350 {
		t.Errorf("total = %v, want consultation 100 plus five 50 fees", got.TotalAmount)
	}
	if got.Status != InvoicePaid && got.Status != InvoiceAdjusted {
		t.Errorf("status = %q, want paid or adjusted", got.Status)
	}
}

func TestAccrueFeeOnCancelledInvoiceIsDropped(t *testing.T) {
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

	applied, err := env.ledger.AccrueFee(ctx, testRadiologist, booking.ID, "X-ray", 500)
	if err != nil {
		t.Fatalf("AccrueFee: %v", err)
	}
	if applied {
		t.Fatal("expected fee to be dropped on a cancelled invoice")
	}

	got, err := env.ledger.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if len(got.Lines) != 1 {
		t.Errorf("lines = %d, want the original 1", len(got.Lines))
	}
	if got.TotalAmount != 100 {
		t.Errorf("total = %v, want 100", got.TotalAmount)
	}
	if got.Status != InvoiceCancelled {
		t.Errorf("status = %q, want %q", got.Status, InvoiceCancelled)
	}
}

func TestBookingCancelCancelsInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 100)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	inv, err := env.ledger.CreateForBooking(ctx, testReceptionist, booking.ID)
	if err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}
	if _, err := env.ledger.AccrueFee(ctx, testRadiologist, booking.ID, "X-ray", 500); err != nil {
		t.Fatalf("AccrueFee: %v", err)
	}
	if err := env.ledger.MarkPaid(ctx, testReceptionist, inv.ID); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	if err := env.bookings.Cancel(ctx, testReceptionist, booking.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := env.ledger.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Status != InvoiceCancelled {
		t.Errorf("status = %q, want %q", got.Status, InvoiceCancelled)
	}
	// Lines and total survive as a historical record.
	if len(got.Lines) != 2 {
		t.Errorf("lines = %d, want 2", len(got.Lines))
	}
	if got.TotalAmount != 600 {
		t.Errorf("total = %v, want 600", got.TotalAmount)
	}
}

func TestBookingCancelWithoutInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 2, 100)
	booking := env.mustBook(t, slot.ID, env.patient.ID)

	// No invoice exists; cancellation must still succeed.
	if err := env.bookings.Cancel(ctx, testReceptionist, booking.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestInvoicesForPatient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slot := env.mustCreateSlot(t, 3, 100)
	other := env.store.AddPatient("Quinn Park")

	b1 := env.mustBook(t, slot.ID, env.patient.ID)
	b2 := env.mustBook(t, slot.ID, other.ID)

	if _, err := env.ledger.CreateForBooking(ctx, testReceptionist, b1.ID); err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}
	if _, err := env.ledger.CreateForBooking(ctx, testReceptionist, b2.ID); err != nil {
		t.Fatalf("CreateForBooking: %v", err)
	}

	invoices, err := env.ledger.InvoicesForPatient(ctx, env.patient.ID)
	if err != nil {
		t.Fatalf("InvoicesForPatient: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(invoices))
	}
	if invoices[0].BookingID != b1.ID {
		t.Errorf("booking id = %d, want %d", invoices[0].BookingID, b1.ID)
	}
}

package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/identity"
)

const diagnosticLineTitle = "Diagnostic fee"

// FeeBridge is the single entry point for the diagnostic workflow. When a
// result completes, the fee lands on the invoice of the patient's most recent
// active booking with the requesting provider. The workflow guarantees one
// result per request, so the bridge does no de-duplication of its own.
type FeeBridge struct {
	store  Store
	ledger *InvoiceLedger
	log    zerolog.Logger
}

func NewFeeBridge(store Store, ledger *InvoiceLedger, log zerolog.Logger) *FeeBridge {
	return &FeeBridge{
		store:  store,
		ledger: ledger,
		log:    log.With().Str("component", "fee_bridge").Logger(),
	}
}

// OnResultCompleted resolves the relevant booking and accrues the fee,
// creating the invoice first when none exists yet. A result with no matching
// visit drops the fee; that is a business decision, not a fault, so the call
// still succeeds.
func (b *FeeBridge) OnResultCompleted(ctx context.Context, actor identity.Actor, requestID, patientID, providerID int64, fee float64, completedAt time.Time) error {
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	return b.store.WithTx(ctx, func(r Repository) error {
		booking, err := r.LatestActiveBooking(ctx, patientID, providerID, completedAt)
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				b.log.Info().
					Int64("request_id", requestID).
					Int64("patient_id", patientID).
					Int64("provider_id", providerID).
					Float64("fee", fee).
					Msg("diagnostic fee dropped: no matching booking")
				logEvent(ctx, r, b.log, nil, EventFeeDropped, map[string]any{
					"request_id":  requestID,
					"patient_id":  patientID,
					"provider_id": providerID,
					"fee":         fee,
				})
				return nil
			}
			return err
		}

		if _, err := r.GetInvoiceByBooking(ctx, booking.ID); err != nil {
			if !errors.Is(err, ErrInvoiceNotFound) {
				return err
			}
			if _, err := b.ledger.createForBooking(ctx, r, actor, booking.ID); err != nil {
				return err
			}
		}

		_, err = b.ledger.accrueFee(ctx, r, actor, booking.ID, diagnosticLineTitle, fee)
		return err
	})
}

package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventSlotCreated      = "SLOT_CREATED"
	EventSlotUpdated      = "SLOT_UPDATED"
	EventSlotCancelled    = "SLOT_CANCELLED"
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingArrived   = "BOOKING_ARRIVED"
	EventBookingNoShow    = "BOOKING_NO_SHOW"
	EventInvoiceCreated   = "INVOICE_CREATED"
	EventInvoicePaid      = "INVOICE_PAID"
	EventFeeAccrued       = "FEE_ACCRUED"
	EventFeeDropped       = "FEE_DROPPED"
)

// logEvent writes an audit row. Event logging is best effort and never fails
// the surrounding operation.
func logEvent(ctx context.Context, r Repository, log zerolog.Logger, bookingID *int64, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		BookingID: bookingID,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := r.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("insert event log")
	}
}

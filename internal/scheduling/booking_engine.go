package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/identity"
	redisclient "github.com/clinicware/clinic-scheduling/internal/redis"
)

// BookingObserver is notified inside the cancel transaction, so observers
// mutate their own state atomically with the booking transition. The invoice
// ledger registers itself here.
type BookingObserver interface {
	OnBookingCancelled(ctx context.Context, r Repository, bookingID int64) error
}

// BookingEngine owns booking admission and the booking/slot state machine.
// Slot.BookedCount and the Available/Full flip are mutated here and nowhere
// else.
type BookingEngine struct {
	store    Store
	locker   redisclient.Locker
	log      zerolog.Logger
	observer BookingObserver
}

func NewBookingEngine(store Store, locker redisclient.Locker, log zerolog.Logger) *BookingEngine {
	return &BookingEngine{
		store:  store,
		locker: locker,
		log:    log.With().Str("component", "booking_engine").Logger(),
	}
}

// SetObserver registers the cancellation observer. Optional.
func (e *BookingEngine) SetObserver(o BookingObserver) {
	e.observer = o
}

// Book admits a patient into a slot. The whole check-and-mutate sequence runs
// inside one transaction with the slot row locked, under the slot's
// distributed lock, so two concurrent calls can never both pass the capacity
// check. Preconditions are evaluated in a fixed order and the first failure
// wins.
func (e *BookingEngine) Book(ctx context.Context, actor identity.Actor, slotID, patientID int64) (*Booking, error) {
	if _, err := e.store.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Booking

	err := e.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		txErr := e.store.WithTx(lockCtx, func(r Repository) error {
			slot, err := r.GetSlotForUpdate(lockCtx, slotID)
			if err != nil {
				return err
			}

			if slot.Status != SlotAvailable {
				return ErrSlotNotBookable
			}
			if !slot.StartAt().After(time.Now()) {
				return ErrSlotInPast
			}
			if slot.BookedCount >= slot.Capacity {
				return ErrSlotFull
			}

			active, err := r.HasActiveBooking(lockCtx, slotID, patientID)
			if err != nil {
				return err
			}
			if active {
				return ErrDuplicateBooking
			}

			orderNumber, err := r.NextOrderNumber(lockCtx, slotID)
			if err != nil {
				return err
			}

			booking := &Booking{
				SlotID:      slotID,
				PatientID:   patientID,
				OrderNumber: orderNumber,
				Status:      BookingBooked,
			}
			if err := r.CreateBooking(lockCtx, booking); err != nil {
				return err
			}

			slot.BookedCount++
			if slot.BookedCount >= slot.Capacity {
				slot.Status = SlotFull
			}
			if err := r.UpdateSlot(lockCtx, slot); err != nil {
				return err
			}

			created = booking

			logEvent(lockCtx, r, e.log, &booking.ID, EventBookingCreated, map[string]any{
				"slot_id":      slotID,
				"patient_id":   patientID,
				"order_number": orderNumber,
				"actor":        actor.String(),
			})
			return nil
		})
		if errors.Is(txErr, ErrSlotFull) {
			// The rejection rolled back; the status correction must not.
			e.correctFullStatus(lockCtx, slotID)
		}
		return txErr
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	return created, nil
}

// correctFullStatus persists the Available to Full flip for a slot whose
// booked count already reached capacity. Runs in its own transaction so it
// commits even though the booking attempt that exposed the stale status was
// rejected. Best effort.
func (e *BookingEngine) correctFullStatus(ctx context.Context, slotID int64) {
	err := e.store.WithTx(ctx, func(r Repository) error {
		slot, err := r.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotAvailable || slot.BookedCount < slot.Capacity {
			return nil
		}
		slot.Status = SlotFull
		return r.UpdateSlot(ctx, slot)
	})
	if err != nil {
		e.log.Warn().Err(err).Int64("slot_id", slotID).Msg("full status correction failed")
	}
}

// Cancel moves a Booked booking to Cancelled and frees its slot seat. A
// repeated cancel is rejected with ErrNotCancellable, not treated as a no-op.
// Patient actors may only cancel their own bookings. The registered observer
// runs inside the same transaction.
func (e *BookingEngine) Cancel(ctx context.Context, actor identity.Actor, bookingID int64) error {
	booking, err := e.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}

	err = e.locker.WithSlotLock(ctx, booking.SlotID, func(lockCtx context.Context) error {
		return e.store.WithTx(lockCtx, func(r Repository) error {
			b, err := r.GetBookingForUpdate(lockCtx, bookingID)
			if err != nil {
				return err
			}
			if actor.Role == identity.RolePatient && b.PatientID != actor.ID {
				return ErrBookingNotFound
			}
			if b.Status != BookingBooked {
				return ErrNotCancellable
			}

			if _, err := r.UpdateBookingStatus(lockCtx, b.ID, BookingBooked, BookingCancelled); err != nil {
				return err
			}

			slot, err := r.GetSlotForUpdate(lockCtx, b.SlotID)
			if err != nil {
				return err
			}
			if slot.BookedCount > 0 {
				slot.BookedCount--
			}
			if slot.Status == SlotFull && slot.BookedCount < slot.Capacity {
				slot.Status = SlotAvailable
			}
			if err := r.UpdateSlot(lockCtx, slot); err != nil {
				return err
			}

			if e.observer != nil {
				if err := e.observer.OnBookingCancelled(lockCtx, r, b.ID); err != nil {
					return err
				}
			}

			logEvent(lockCtx, r, e.log, &b.ID, EventBookingCancelled, map[string]any{
				"slot_id": b.SlotID,
				"actor":   actor.String(),
			})
			return nil
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBusy
	}
	return err
}

// MarkArrived records that the patient showed up. Valid only from Booked.
func (e *BookingEngine) MarkArrived(ctx context.Context, actor identity.Actor, bookingID int64) error {
	return e.transition(ctx, actor, bookingID, BookingArrived, EventBookingArrived)
}

// MarkNoShow records that the patient did not show up. Valid only from Booked.
func (e *BookingEngine) MarkNoShow(ctx context.Context, actor identity.Actor, bookingID int64) error {
	return e.transition(ctx, actor, bookingID, BookingNoShow, EventBookingNoShow)
}

func (e *BookingEngine) transition(ctx context.Context, actor identity.Actor, bookingID int64, to BookingStatus, eventType string) error {
	return e.store.WithTx(ctx, func(r Repository) error {
		b, err := r.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != BookingBooked {
			return ErrInvalidTransition
		}

		if _, err := r.UpdateBookingStatus(ctx, b.ID, BookingBooked, to); err != nil {
			return err
		}

		logEvent(ctx, r, e.log, &b.ID, eventType, map[string]any{
			"slot_id": b.SlotID,
			"actor":   actor.String(),
		})
		return nil
	})
}

// GetBooking returns one booking by id.
func (e *BookingEngine) GetBooking(ctx context.Context, bookingID int64) (*Booking, error) {
	return e.store.GetBookingByID(ctx, bookingID)
}

// BookingsForSlot lists a slot's bookings ordered by order number.
func (e *BookingEngine) BookingsForSlot(ctx context.Context, slotID int64) ([]Booking, error) {
	return e.store.ListBookingsForSlot(ctx, slotID)
}

// BookingsForPatient lists a patient's bookings, newest first.
func (e *BookingEngine) BookingsForPatient(ctx context.Context, patientID int64) ([]Booking, error) {
	return e.store.ListBookingsForPatient(ctx, patientID)
}

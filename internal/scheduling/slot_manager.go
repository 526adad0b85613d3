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

// SlotManager owns the slot lifecycle: creation, edits and terminal
// cancellation. Booked counts and the Available/Full flip belong to the
// BookingEngine; this manager never touches them.
type SlotManager struct {
	store  Store
	locker redisclient.Locker
	log    zerolog.Logger
}

func NewSlotManager(store Store, locker redisclient.Locker, log zerolog.Logger) *SlotManager {
	return &SlotManager{
		store:  store,
		locker: locker,
		log:    log.With().Str("component", "slot_manager").Logger(),
	}
}

type SlotInput struct {
	ProviderID int64
	Date       time.Time
	StartTime  time.Duration
	EndTime    time.Duration
	Capacity   int
	UnitPrice  float64
}

func (in *SlotInput) validate(now time.Time) error {
	if in.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if in.StartTime >= in.EndTime {
		return ErrInvalidTimeRange
	}
	if !in.Date.Add(in.StartTime).After(now) {
		return ErrSlotInPast
	}
	return nil
}

// normalizeDay truncates to midnight UTC so the per-day overlap scope is
// unambiguous.
func normalizeDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateSlot validates the window and creates an Available slot. The overlap
// check and the insert run inside one transaction under the provider's
// schedule lock, so two concurrent creates cannot both pass the check.
func (m *SlotManager) CreateSlot(ctx context.Context, actor identity.Actor, in SlotInput) (*Slot, error) {
	in.Date = normalizeDay(in.Date)
	if err := in.validate(time.Now()); err != nil {
		return nil, err
	}

	if _, err := m.store.GetProviderByID(ctx, in.ProviderID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	var created *Slot

	err := m.locker.WithScheduleLock(ctx, in.ProviderID, in.Date, func(lockCtx context.Context) error {
		return m.store.WithTx(lockCtx, func(r Repository) error {
			overlaps, err := r.HasOverlappingSlot(lockCtx, in.ProviderID, in.Date, in.StartTime, in.EndTime, 0)
			if err != nil {
				return err
			}
			if overlaps {
				return ErrSlotOverlap
			}

			slot := &Slot{
				ProviderID:  in.ProviderID,
				Date:        in.Date,
				StartTime:   in.StartTime,
				EndTime:     in.EndTime,
				Capacity:    in.Capacity,
				BookedCount: 0,
				UnitPrice:   in.UnitPrice,
				Status:      SlotAvailable,
			}
			if err := r.CreateSlot(lockCtx, slot); err != nil {
				return err
			}
			created = slot

			logEvent(lockCtx, r, m.log, nil, EventSlotCreated, map[string]any{
				"slot_id":     slot.ID,
				"provider_id": slot.ProviderID,
				"actor":       actor.String(),
			})
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	return created, nil
}

// UpdateSlot re-validates and rewrites the slot's window, capacity and price.
// The slot itself is excluded from the overlap check. Booked count and status
// are preserved as-is.
func (m *SlotManager) UpdateSlot(ctx context.Context, actor identity.Actor, slotID int64, in SlotInput) error {
	in.Date = normalizeDay(in.Date)
	if err := in.validate(time.Now()); err != nil {
		return err
	}

	err := m.locker.WithScheduleLock(ctx, in.ProviderID, in.Date, func(lockCtx context.Context) error {
		return m.store.WithTx(lockCtx, func(r Repository) error {
			slot, err := r.GetSlotForUpdate(lockCtx, slotID)
			if err != nil {
				return err
			}

			overlaps, err := r.HasOverlappingSlot(lockCtx, in.ProviderID, in.Date, in.StartTime, in.EndTime, slotID)
			if err != nil {
				return err
			}
			if overlaps {
				return ErrSlotOverlap
			}

			slot.ProviderID = in.ProviderID
			slot.Date = in.Date
			slot.StartTime = in.StartTime
			slot.EndTime = in.EndTime
			slot.Capacity = in.Capacity
			slot.UnitPrice = in.UnitPrice
			if err := r.UpdateSlot(lockCtx, slot); err != nil {
				return err
			}

			logEvent(lockCtx, r, m.log, nil, EventSlotUpdated, map[string]any{
				"slot_id": slot.ID,
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

// CancelSlot marks the slot cancelled. This is terminal and unconditional.
// Existing Booked bookings are deliberately left untouched, mirroring the
// upstream behavior; callers who want a cascade must cancel bookings
// themselves.
func (m *SlotManager) CancelSlot(ctx context.Context, actor identity.Actor, slotID int64) error {
	err := m.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		return m.store.WithTx(lockCtx, func(r Repository) error {
			slot, err := r.GetSlotForUpdate(lockCtx, slotID)
			if err != nil {
				return err
			}

			slot.Status = SlotCancelled
			if err := r.UpdateSlot(lockCtx, slot); err != nil {
				return err
			}

			logEvent(lockCtx, r, m.log, nil, EventSlotCancelled, map[string]any{
				"slot_id": slot.ID,
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

// GetSlot returns one slot by id.
func (m *SlotManager) GetSlot(ctx context.Context, slotID int64) (*Slot, error) {
	return m.store.GetSlotByID(ctx, slotID)
}

// SlotsByProvider lists all of a provider's slots ordered by date and start.
func (m *SlotManager) SlotsByProvider(ctx context.Context, providerID int64) ([]Slot, error) {
	return m.store.ListSlotsByProvider(ctx, providerID)
}

// AvailableSlots lists bookable slots starting after now.
func (m *SlotManager) AvailableSlots(ctx context.Context) ([]Slot, error) {
	return m.store.ListAvailableSlots(ctx, time.Now())
}

package scheduling

import "errors"

// Not-found errors.
var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrPatientNotFound  = errors.New("patient not found")
	ErrSlotNotFound     = errors.New("slot not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrInvoiceNotFound  = errors.New("invoice not found")
)

// Validation errors.
var (
	ErrInvalidCapacity  = errors.New("capacity must be positive")
	ErrInvalidTimeRange = errors.New("start time must be before end time")
	ErrSlotInPast       = errors.New("slot start must be in the future")
)

// Business-rule conflicts.
var (
	ErrSlotOverlap       = errors.New("slot overlaps an existing slot for this provider")
	ErrSlotNotBookable   = errors.New("slot is not available for booking")
	ErrSlotFull          = errors.New("slot has reached capacity")
	ErrDuplicateBooking  = errors.New("patient already has an active booking on this slot")
	ErrNotCancellable    = errors.New("booking is not in a cancellable state")
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrAlreadyInvoiced   = errors.New("booking already has an invoice")
	ErrBookingNotActive  = errors.New("booking is not active")
	ErrSlotBusy          = errors.New("slot is currently being modified, please retry")
)

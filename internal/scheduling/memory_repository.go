package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests. A single mutex plays the
// role of the database's row locks: WithTx holds it for the whole callback,
// so transactions never interleave, and state is restored when the callback
// fails so a failed transaction leaves no partial mutation.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryRepo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryRepo()}
}

func (m *MemoryStore) WithTx(_ context.Context, fn func(r Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// AddProvider seeds a provider and returns it.
func (m *MemoryStore) AddProvider(name string) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.nextProviderID++
	p := &Provider{ID: m.data.nextProviderID, Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.data.providers[p.ID] = p
	return p
}

// AddPatient seeds a patient and returns it.
func (m *MemoryStore) AddPatient(name string) *Patient {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.nextPatientID++
	p := &Patient{ID: m.data.nextPatientID, Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.data.patients[p.ID] = p
	return p
}

func (m *MemoryStore) GetProviderByID(ctx context.Context, id int64) (*Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetProviderByID(ctx, id)
}

func (m *MemoryStore) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetPatientByID(ctx, id)
}

func (m *MemoryStore) CreateSlot(ctx context.Context, s *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateSlot(ctx, s)
}

func (m *MemoryStore) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetSlotByID(ctx, id)
}

func (m *MemoryStore) GetSlotForUpdate(ctx context.Context, id int64) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetSlotForUpdate(ctx, id)
}

func (m *MemoryStore) UpdateSlot(ctx context.Context, s *Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateSlot(ctx, s)
}

func (m *MemoryStore) HasOverlappingSlot(ctx context.Context, providerID int64, date time.Time, start, end time.Duration, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.HasOverlappingSlot(ctx, providerID, date, start, end, excludeID)
}

func (m *MemoryStore) ListSlotsByProvider(ctx context.Context, providerID int64) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListSlotsByProvider(ctx, providerID)
}

func (m *MemoryStore) ListAvailableSlots(ctx context.Context, from time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListAvailableSlots(ctx, from)
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateBooking(ctx, b)
}

func (m *MemoryStore) GetBookingByID(ctx context.Context, id int64) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetBookingByID(ctx, id)
}

func (m *MemoryStore) GetBookingForUpdate(ctx context.Context, id int64) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetBookingForUpdate(ctx, id)
}

func (m *MemoryStore) HasActiveBooking(ctx context.Context, slotID, patientID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.HasActiveBooking(ctx, slotID, patientID)
}

func (m *MemoryStore) NextOrderNumber(ctx context.Context, slotID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.NextOrderNumber(ctx, slotID)
}

func (m *MemoryStore) UpdateBookingStatus(ctx context.Context, id int64, from, to BookingStatus) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateBookingStatus(ctx, id, from, to)
}

func (m *MemoryStore) ListBookingsForSlot(ctx context.Context, slotID int64) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListBookingsForSlot(ctx, slotID)
}

func (m *MemoryStore) ListBookingsForPatient(ctx context.Context, patientID int64) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListBookingsForPatient(ctx, patientID)
}

func (m *MemoryStore) LatestActiveBooking(ctx context.Context, patientID, providerID int64, at time.Time) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.LatestActiveBooking(ctx, patientID, providerID, at)
}

func (m *MemoryStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateInvoice(ctx, inv)
}

func (m *MemoryStore) GetInvoiceByID(ctx context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetInvoiceByID(ctx, id)
}

func (m *MemoryStore) GetInvoiceByIDForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetInvoiceByIDForUpdate(ctx, id)
}

func (m *MemoryStore) GetInvoiceByBooking(ctx context.Context, bookingID int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetInvoiceByBooking(ctx, bookingID)
}

func (m *MemoryStore) GetInvoiceByBookingForUpdate(ctx context.Context, bookingID int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.GetInvoiceByBookingForUpdate(ctx, bookingID)
}

func (m *MemoryStore) AppendInvoiceLine(ctx context.Context, invoiceID int64, line InvoiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendInvoiceLine(ctx, invoiceID, line)
}

func (m *MemoryStore) UpdateInvoiceBilling(ctx context.Context, invoiceID int64, total float64, status InvoiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateInvoiceBilling(ctx, invoiceID, total, status)
}

func (m *MemoryStore) ListInvoicesForPatient(ctx context.Context, patientID int64) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListInvoicesForPatient(ctx, patientID)
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertEvent(ctx, ev)
}

// Events returns a copy of the recorded event log.
func (m *MemoryStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventLog, len(m.data.events))
	copy(out, m.data.events)
	return out
}

// memoryRepo holds the actual state. It performs no locking of its own; the
// MemoryStore wrapper serializes access.
type memoryRepo struct {
	providers map[int64]*Provider
	patients  map[int64]*Patient
	slots     map[int64]*Slot
	bookings  map[int64]*Booking
	invoices  map[int64]*Invoice
	events    []EventLog

	nextProviderID int64
	nextPatientID  int64
	nextSlotID     int64
	nextBookingID  int64
	nextInvoiceID  int64
	nextLineID     int64
	nextEventID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		providers: make(map[int64]*Provider),
		patients:  make(map[int64]*Patient),
		slots:     make(map[int64]*Slot),
		bookings:  make(map[int64]*Booking),
		invoices:  make(map[int64]*Invoice),
	}
}

func (r *memoryRepo) clone() *memoryRepo {
	c := &memoryRepo{
		providers:      make(map[int64]*Provider, len(r.providers)),
		patients:       make(map[int64]*Patient, len(r.patients)),
		slots:          make(map[int64]*Slot, len(r.slots)),
		bookings:       make(map[int64]*Booking, len(r.bookings)),
		invoices:       make(map[int64]*Invoice, len(r.invoices)),
		events:         make([]EventLog, len(r.events)),
		nextProviderID: r.nextProviderID,
		nextPatientID:  r.nextPatientID,
		nextSlotID:     r.nextSlotID,
		nextBookingID:  r.nextBookingID,
		nextInvoiceID:  r.nextInvoiceID,
		nextLineID:     r.nextLineID,
		nextEventID:    r.nextEventID,
	}
	for id, p := range r.providers {
		cp := *p
		c.providers[id] = &cp
	}
	for id, p := range r.patients {
		cp := *p
		c.patients[id] = &cp
	}
	for id, s := range r.slots {
		cp := *s
		c.slots[id] = &cp
	}
	for id, b := range r.bookings {
		cp := *b
		c.bookings[id] = &cp
	}
	for id, inv := range r.invoices {
		cp := *inv
		cp.Lines = append([]InvoiceLine(nil), inv.Lines...)
		c.invoices[id] = &cp
	}
	copy(c.events, r.events)
	return c
}

func (r *memoryRepo) GetProviderByID(_ context.Context, id int64) (*Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) GetPatientByID(_ context.Context, id int64) (*Patient, error) {
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) CreateSlot(_ context.Context, s *Slot) error {
	r.nextSlotID++
	s.ID = r.nextSlotID
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.slots[s.ID] = &cp
	return nil
}

func (r *memoryRepo) GetSlotByID(_ context.Context, id int64) (*Slot, error) {
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memoryRepo) GetSlotForUpdate(ctx context.Context, id int64) (*Slot, error) {
	return r.GetSlotByID(ctx, id)
}

func (r *memoryRepo) UpdateSlot(_ context.Context, s *Slot) error {
	if _, ok := r.slots[s.ID]; !ok {
		return ErrSlotNotFound
	}
	s.UpdatedAt = time.Now()
	cp := *s
	r.slots[s.ID] = &cp
	return nil
}

func (r *memoryRepo) HasOverlappingSlot(_ context.Context, providerID int64, date time.Time, start, end time.Duration, excludeID int64) (bool, error) {
	for _, s := range r.slots {
		if s.ID == excludeID || s.ProviderID != providerID || s.Status == SlotCancelled {
			continue
		}
		if !s.Date.Equal(date) {
			continue
		}
		if Overlaps(start, end, s.StartTime, s.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) ListSlotsByProvider(_ context.Context, providerID int64) ([]Slot, error) {
	var result []Slot
	for _, s := range r.slots {
		if s.ProviderID == providerID {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].StartTime < result[j].StartTime
	})
	return result, nil
}

func (r *memoryRepo) ListAvailableSlots(_ context.Context, from time.Time) ([]Slot, error) {
	var result []Slot
	for _, s := range r.slots {
		if s.Status == SlotAvailable && s.StartAt().After(from) {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].StartTime < result[j].StartTime
	})
	return result, nil
}

func (r *memoryRepo) CreateBooking(_ context.Context, b *Booking) error {
	r.nextBookingID++
	b.ID = r.nextBookingID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	r.bookings[b.ID] = &cp
	return nil
}

func (r *memoryRepo) GetBookingByID(_ context.Context, id int64) (*Booking, error) {
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memoryRepo) GetBookingForUpdate(ctx context.Context, id int64) (*Booking, error) {
	return r.GetBookingByID(ctx, id)
}

func (r *memoryRepo) HasActiveBooking(_ context.Context, slotID, patientID int64) (bool, error) {
	for _, b := range r.bookings {
		if b.SlotID == slotID && b.PatientID == patientID && b.Status == BookingBooked {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) NextOrderNumber(_ context.Context, slotID int64) (int, error) {
	max := 0
	for _, b := range r.bookings {
		if b.SlotID == slotID && b.OrderNumber > max {
			max = b.OrderNumber
		}
	}
	return max + 1, nil
}

func (r *memoryRepo) UpdateBookingStatus(_ context.Context, id int64, from, to BookingStatus) (*Booking, error) {
	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (r *memoryRepo) ListBookingsForSlot(_ context.Context, slotID int64) ([]Booking, error) {
	var result []Booking
	for _, b := range r.bookings {
		if b.SlotID == slotID {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OrderNumber < result[j].OrderNumber
	})
	return result, nil
}

func (r *memoryRepo) ListBookingsForPatient(_ context.Context, patientID int64) ([]Booking, error) {
	var result []Booking
	for _, b := range r.bookings {
		if b.PatientID == patientID {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *memoryRepo) LatestActiveBooking(_ context.Context, patientID, providerID int64, at time.Time) (*Booking, error) {
	var latest *Booking
	for _, b := range r.bookings {
		if b.PatientID != patientID || b.Status != BookingBooked || b.CreatedAt.After(at) {
			continue
		}
		slot, ok := r.slots[b.SlotID]
		if !ok || slot.ProviderID != providerID {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) ||
			(b.CreatedAt.Equal(latest.CreatedAt) && b.ID > latest.ID) {
			latest = b
		}
	}
	if latest == nil {
		return nil, ErrBookingNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memoryRepo) CreateInvoice(_ context.Context, inv *Invoice) error {
	r.nextInvoiceID++
	inv.ID = r.nextInvoiceID
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	for i := range inv.Lines {
		r.nextLineID++
		inv.Lines[i].ID = r.nextLineID
		inv.Lines[i].InvoiceID = inv.ID
		inv.Lines[i].Position = i + 1
	}
	cp := *inv
	cp.Lines = append([]InvoiceLine(nil), inv.Lines...)
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *memoryRepo) GetInvoiceByID(_ context.Context, id int64) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	cp.Lines = append([]InvoiceLine(nil), inv.Lines...)
	return &cp, nil
}

func (r *memoryRepo) GetInvoiceByIDForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return r.GetInvoiceByID(ctx, id)
}

func (r *memoryRepo) GetInvoiceByBooking(_ context.Context, bookingID int64) (*Invoice, error) {
	for _, inv := range r.invoices {
		if inv.BookingID == bookingID {
			cp := *inv
			cp.Lines = append([]InvoiceLine(nil), inv.Lines...)
			return &cp, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (r *memoryRepo) GetInvoiceByBookingForUpdate(ctx context.Context, bookingID int64) (*Invoice, error) {
	return r.GetInvoiceByBooking(ctx, bookingID)
}

func (r *memoryRepo) AppendInvoiceLine(_ context.Context, invoiceID int64, line InvoiceLine) error {
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	r.nextLineID++
	line.ID = r.nextLineID
	line.InvoiceID = invoiceID
	line.Position = len(inv.Lines) + 1
	inv.Lines = append(inv.Lines, line)
	return nil
}

func (r *memoryRepo) UpdateInvoiceBilling(_ context.Context, invoiceID int64, total float64, status InvoiceStatus) error {
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.TotalAmount = total
	inv.Status = status
	inv.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepo) ListInvoicesForPatient(_ context.Context, patientID int64) ([]Invoice, error) {
	var result []Invoice
	for _, inv := range r.invoices {
		b, ok := r.bookings[inv.BookingID]
		if !ok || b.PatientID != patientID {
			continue
		}
		cp := *inv
		cp.Lines = append([]InvoiceLine(nil), inv.Lines...)
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *memoryRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code runs inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pgRepository
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		pgRepository: pgRepository{q: pool},
		pool:         pool,
	}
}

// WithTx runs fn with a transaction-scoped repository. The transaction is
// rolled back if fn returns an error and committed otherwise.
func (s *PgStore) WithTx(ctx context.Context, fn func(r Repository) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgRepository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgRepository struct {
	q querier
}

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var startSecs, endSecs int64

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&startSecs,
		&endSecs,
		&s.Capacity,
		&s.BookedCount,
		&s.UnitPrice,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.StartTime = time.Duration(startSecs) * time.Second
	s.EndTime = time.Duration(endSecs) * time.Second
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.SlotID,
		&b.PatientID,
		&b.OrderNumber,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanInvoiceHead(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID,
		&inv.BookingID,
		&inv.TotalAmount,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

const slotColumns = `id, provider_id, date, start_time_secs, end_time_secs, capacity, booked_count, unit_price, status, created_at, updated_at`

const bookingColumns = `id, slot_id, patient_id, order_number, status, created_at, updated_at`

const invoiceColumns = `id, booking_id, total_amount, status, created_at, updated_at`

// Providers and patients

func (r *pgRepository) GetProviderByID(ctx context.Context, id int64) (*Provider, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *pgRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Slots

func (r *pgRepository) CreateSlot(ctx context.Context, s *Slot) error {
	row := r.q.QueryRow(ctx, `
		INSERT INTO slots (provider_id, date, start_time_secs, end_time_secs, capacity, booked_count, unit_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id, created_at, updated_at
	`, s.ProviderID, s.Date, int64(s.StartTime/time.Second), int64(s.EndTime/time.Second),
		s.Capacity, s.BookedCount, s.UnitPrice, s.Status)

	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *pgRepository) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *pgRepository) GetSlotForUpdate(ctx context.Context, id int64) (*Slot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (r *pgRepository) UpdateSlot(ctx context.Context, s *Slot) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET provider_id = $2,
		    date = $3,
		    start_time_secs = $4,
		    end_time_secs = $5,
		    capacity = $6,
		    booked_count = $7,
		    unit_price = $8,
		    status = $9,
		    updated_at = now()
		WHERE id = $1
	`, s.ID, s.ProviderID, s.Date, int64(s.StartTime/time.Second), int64(s.EndTime/time.Second),
		s.Capacity, s.BookedCount, s.UnitPrice, s.Status)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *pgRepository) HasOverlappingSlot(ctx context.Context, providerID int64, date time.Time, start, end time.Duration, excludeID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM slots
			WHERE provider_id = $1
			  AND date = $2
			  AND status <> 'cancelled'
			  AND id <> $3
			  AND start_time_secs < $5
			  AND end_time_secs > $4
		)
	`, providerID, date, excludeID, int64(start/time.Second), int64(end/time.Second)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slot overlap: %w", err)
	}
	return exists, nil
}

func (r *pgRepository) ListSlotsByProvider(ctx context.Context, providerID int64) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		ORDER BY date, start_time_secs
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func (r *pgRepository) ListAvailableSlots(ctx context.Context, from time.Time) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE status = 'available'
		  AND date + make_interval(secs => start_time_secs) > $1
		ORDER BY date, start_time_secs
	`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Bookings

func (r *pgRepository) CreateBooking(ctx context.Context, b *Booking) error {
	row := r.q.QueryRow(ctx, `
		INSERT INTO bookings (slot_id, patient_id, order_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, created_at, updated_at
	`, b.SlotID, b.PatientID, b.OrderNumber, b.Status)

	if err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *pgRepository) GetBookingByID(ctx context.Context, id int64) (*Booking, error) {
	row := r.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *pgRepository) GetBookingForUpdate(ctx context.Context, id int64) (*Booking, error) {
	row := r.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	return scanBooking(row)
}

func (r *pgRepository) HasActiveBooking(ctx context.Context, slotID, patientID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE slot_id = $1 AND patient_id = $2 AND status = 'booked'
		)
	`, slotID, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active booking: %w", err)
	}
	return exists, nil
}

func (r *pgRepository) NextOrderNumber(ctx context.Context, slotID int64) (int, error) {
	var next int
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(order_number), 0) + 1
		FROM bookings
		WHERE slot_id = $1
	`, slotID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return next, nil
}

func (r *pgRepository) UpdateBookingStatus(ctx context.Context, id int64, from, to BookingStatus) (*Booking, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)
	return scanBooking(row)
}

func (r *pgRepository) ListBookingsForSlot(ctx context.Context, slotID int64) ([]Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE slot_id = $1
		ORDER BY order_number
	`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (r *pgRepository) ListBookingsForPatient(ctx context.Context, patientID int64) ([]Booking, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (r *pgRepository) LatestActiveBooking(ctx context.Context, patientID, providerID int64, at time.Time) (*Booking, error) {
	row := r.q.QueryRow(ctx, `
		SELECT b.id, b.slot_id, b.patient_id, b.order_number, b.status, b.created_at, b.updated_at
		FROM bookings b
		JOIN slots s ON s.id = b.slot_id
		WHERE b.patient_id = $1
		  AND s.provider_id = $2
		  AND b.status = 'booked'
		  AND b.created_at <= $3
		ORDER BY b.created_at DESC
		LIMIT 1
	`, patientID, providerID, at)
	return scanBooking(row)
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Invoices

func (r *pgRepository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	row := r.q.QueryRow(ctx, `
		INSERT INTO invoices (booking_id, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, created_at, updated_at
	`, inv.BookingID, inv.TotalAmount, inv.Status)

	if err := row.Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	for i := range inv.Lines {
		inv.Lines[i].InvoiceID = inv.ID
		inv.Lines[i].Position = i + 1
		if err := r.insertLine(ctx, &inv.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgRepository) insertLine(ctx context.Context, line *InvoiceLine) error {
	row := r.q.QueryRow(ctx, `
		INSERT INTO invoice_lines (invoice_id, position, title, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, line.InvoiceID, line.Position, line.Title, line.Amount)

	if err := row.Scan(&line.ID); err != nil {
		return fmt.Errorf("insert invoice line: %w", err)
	}
	return nil
}

func (r *pgRepository) GetInvoiceByID(ctx context.Context, id int64) (*Invoice, error) {
	row := r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoiceHead(row)
	if err != nil {
		return nil, err
	}
	return r.loadLines(ctx, inv)
}

func (r *pgRepository) GetInvoiceByIDForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	row := r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	inv, err := scanInvoiceHead(row)
	if err != nil {
		return nil, err
	}
	return r.loadLines(ctx, inv)
}

func (r *pgRepository) GetInvoiceByBooking(ctx context.Context, bookingID int64) (*Invoice, error) {
	row := r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE booking_id = $1`, bookingID)
	inv, err := scanInvoiceHead(row)
	if err != nil {
		return nil, err
	}
	return r.loadLines(ctx, inv)
}

func (r *pgRepository) GetInvoiceByBookingForUpdate(ctx context.Context, bookingID int64) (*Invoice, error) {
	row := r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE booking_id = $1 FOR UPDATE`, bookingID)
	inv, err := scanInvoiceHead(row)
	if err != nil {
		return nil, err
	}
	return r.loadLines(ctx, inv)
}

func (r *pgRepository) loadLines(ctx context.Context, inv *Invoice) (*Invoice, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, invoice_id, position, title, amount
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY position
	`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Position, &l.Title, &l.Amount); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *pgRepository) AppendInvoiceLine(ctx context.Context, invoiceID int64, line InvoiceLine) error {
	var position int
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1
		FROM invoice_lines
		WHERE invoice_id = $1
	`, invoiceID).Scan(&position)
	if err != nil {
		return fmt.Errorf("next line position: %w", err)
	}

	line.InvoiceID = invoiceID
	line.Position = position
	return r.insertLine(ctx, &line)
}

func (r *pgRepository) UpdateInvoiceBilling(ctx context.Context, invoiceID int64, total float64, status InvoiceStatus) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoices
		SET total_amount = $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1
	`, invoiceID, total, status)
	if err != nil {
		return fmt.Errorf("update invoice billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *pgRepository) ListInvoicesForPatient(ctx context.Context, patientID int64) ([]Invoice, error) {
	rows, err := r.q.Query(ctx, `
		SELECT i.id, i.booking_id, i.total_amount, i.status, i.created_at, i.updated_at
		FROM invoices i
		JOIN bookings b ON b.id = i.booking_id
		WHERE b.patient_id = $1
		ORDER BY i.created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var heads []Invoice
	for rows.Next() {
		inv, err := scanInvoiceHead(rows)
		if err != nil {
			return nil, err
		}
		heads = append(heads, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]Invoice, 0, len(heads))
	for i := range heads {
		inv, err := r.loadLines(ctx, &heads[i])
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	return result, nil
}

// Events

func (r *pgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

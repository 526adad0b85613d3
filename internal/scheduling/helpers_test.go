package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicware/clinic-scheduling/internal/identity"
	redisclient "github.com/clinicware/clinic-scheduling/internal/redis"
)

// fakeLocker runs callbacks inline. With fail set it refuses every acquisition,
// which is how the conflict path is exercised.
type fakeLocker struct {
	fail bool
}

func (f *fakeLocker) WithSlotLock(ctx context.Context, _ int64, fn func(ctx context.Context) error) error {
	if f.fail {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func (f *fakeLocker) WithScheduleLock(ctx context.Context, _ int64, _ time.Time, fn func(ctx context.Context) error) error {
	if f.fail {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

var (
	testReceptionist = identity.Actor{ID: 900, Role: identity.RoleReceptionist}
	testRadiologist  = identity.Actor{ID: 910, Role: identity.RoleRadiologist}
)

type testEnv struct {
	store    *MemoryStore
	locker   *fakeLocker
	slots    *SlotManager
	bookings *BookingEngine
	ledger   *InvoiceLedger
	bridge   *FeeBridge
	provider *Provider
	patient  *Patient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := NewMemoryStore()
	locker := &fakeLocker{}
	log := zerolog.Nop()

	slots := NewSlotManager(store, locker, log)
	bookings := NewBookingEngine(store, locker, log)
	ledger := NewInvoiceLedger(store, log)
	bookings.SetObserver(ledger)
	bridge := NewFeeBridge(store, ledger, log)

	return &testEnv{
		store:    store,
		locker:   locker,
		slots:    slots,
		bookings: bookings,
		ledger:   ledger,
		bridge:   bridge,
		provider: store.AddProvider("Dr. Reed"),
		patient:  store.AddPatient("Alex Mason"),
	}
}

func tomorrow() time.Time {
	return normalizeDay(time.Now().UTC().AddDate(0, 0, 1))
}

func (e *testEnv) slotInput(start, end time.Duration, capacity int, price float64) SlotInput {
	return SlotInput{
		ProviderID: e.provider.ID,
		Date:       tomorrow(),
		StartTime:  start,
		EndTime:    end,
		Capacity:   capacity,
		UnitPrice:  price,
	}
}

func (e *testEnv) mustCreateSlot(t *testing.T, capacity int, price float64) *Slot {
	t.Helper()
	slot, err := e.slots.CreateSlot(context.Background(), testReceptionist, e.slotInput(9*time.Hour, 10*time.Hour, capacity, price))
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	return slot
}

func (e *testEnv) mustBook(t *testing.T, slotID, patientID int64) *Booking {
	t.Helper()
	b, err := e.bookings.Book(context.Background(), testReceptionist, slotID, patientID)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return b
}

func (e *testEnv) reloadSlot(t *testing.T, id int64) *Slot {
	t.Helper()
	s, err := e.store.GetSlotByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSlotByID: %v", err)
	}
	return s
}

func hasEvent(events []EventLog, eventType string) bool {
	for _, ev := range events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

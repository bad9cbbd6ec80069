package tests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"hailing/internal/domain"
	"hailing/internal/redis"
	"hailing/internal/repository"
	"hailing/internal/repository/memory"
	"hailing/internal/service"
)

// ──────────────────────────────────────────────
// INTERLEAVING STORE
// ──────────────────────────────────────────────

// InterleavingStore runs AfterRead once, right after the first trip read made
// through it, to let another writer slip in between a read and a write.
type InterleavingStore struct {
	repository.Store
	AfterRead func(tripID string)
	once      sync.Once
}

// Trips returns the trip repository with the read hook attached.
func (s *InterleavingStore) Trips() repository.TripRepository {
	return &interleavingTrips{TripRepository: s.Store.Trips(), store: s}
}

type interleavingTrips struct {
	repository.TripRepository
	store *InterleavingStore
}

func (r *interleavingTrips) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	trip, err := r.TripRepository.GetByID(ctx, id)
	if err == nil && r.store.AfterRead != nil {
		r.store.once.Do(func() { r.store.AfterRead(id) })
	}
	return trip, err
}

// ──────────────────────────────────────────────
// RECORDING BROADCASTER
// ──────────────────────────────────────────────

// Published is one event seen by a RecordingBroadcaster.
type Published struct {
	Topic string
	Key   string
	Event service.Event
}

// RecordingBroadcaster keeps every published event in memory.
type RecordingBroadcaster struct {
	mu     sync.Mutex
	events []Published
}

func (b *RecordingBroadcaster) Publish(topic string, event service.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Published{Topic: topic, Event: event})
}

func (b *RecordingBroadcaster) PublishThrottled(key, topic string, event service.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Published{Topic: topic, Key: key, Event: event})
}

// Events returns a copy of everything published so far.
func (b *RecordingBroadcaster) Events() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.events...)
}

// Count returns how many events of type t went to topic.
func (b *RecordingBroadcaster) Count(topic string, t service.EventType) int {
	n := 0
	for _, p := range b.Events() {
		if p.Topic == topic && p.Event.Type == t {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// TRANSPORTS
// ──────────────────────────────────────────────

// Delivery is one payload handed to a RecordingTransport.
type Delivery struct {
	Topic   string
	Payload []byte
}

// RecordingTransport stores deliveries and signals each one on Delivered.
type RecordingTransport struct {
	mu         sync.Mutex
	deliveries []Delivery
	Delivered  chan struct{}
}

// NewRecordingTransport creates a transport whose Delivered channel has room for n signals.
func NewRecordingTransport(n int) *RecordingTransport {
	return &RecordingTransport{Delivered: make(chan struct{}, n)}
}

func (t *RecordingTransport) Name() string { return "recording" }

func (t *RecordingTransport) Deliver(_ context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	t.deliveries = append(t.deliveries, Delivery{Topic: topic, Payload: payload})
	t.mu.Unlock()
	select {
	case t.Delivered <- struct{}{}:
	default:
	}
	return nil
}

// Deliveries returns a copy of the recorded deliveries.
func (t *RecordingTransport) Deliveries() []Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Delivery(nil), t.deliveries...)
}

// FailingTransport rejects every delivery.
type FailingTransport struct {
	Calls atomic.Int32
}

func (t *FailingTransport) Name() string { return "failing" }

func (t *FailingTransport) Deliver(context.Context, string, []byte) error {
	t.Calls.Add(1)
	return errors.New("subscriber unreachable")
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is an in-memory LocationStoreInterface.
type MockLocationStore struct {
	mu   sync.RWMutex
	locs map[string]redis.DriverLocation

	FindError error
}

// NewMockLocationStore creates an empty location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{locs: make(map[string]redis.DriverLocation)}
}

func (m *MockLocationStore) UpdateLocation(_ context.Context, driverID string, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locs[driverID] = redis.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng}
	return nil
}

func (m *MockLocationStore) GetLocation(_ context.Context, driverID string) (*redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locs[driverID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *MockLocationStore) FindNearbyDrivers(_ context.Context, lat, lng, radiusKm float64) ([]redis.DriverLocation, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	from := domain.Point{Lat: lat, Lng: lng}
	var out []redis.DriverLocation
	for _, loc := range m.locs {
		meters, _ := service.RouteEstimate(from, domain.Point{Lat: loc.Lat, Lng: loc.Lng}, 0)
		if float64(meters) <= radiusKm*1000 {
			loc.DistanceKm = float64(meters) / 1000
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (m *MockLocationStore) RemoveLocation(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locs, driverID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is an in-memory LockStoreInterface.
type MockLockStore struct {
	mu   sync.Mutex
	held map[string]string

	AcquireError error
	ReleaseCalls atomic.Int32
}

// NewMockLockStore creates a lock store with no held locks.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{held: make(map[string]string)}
}

// Hold marks a driver's lock as taken by someone else.
func (m *MockLockStore) Hold(driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[driverID] = "elsewhere"
}

func (m *MockLockStore) AcquireDriverLock(_ context.Context, driverID string, _ time.Duration) (string, bool, error) {
	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[driverID]; ok {
		return "", false, nil
	}
	token := uuid.New().String()
	m.held[driverID] = token
	return token, true, nil
}

func (m *MockLockStore) ReleaseDriverLock(_ context.Context, driverID, token string) error {
	m.ReleaseCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[driverID] == token {
		delete(m.held, driverID)
	}
	return nil
}

// ──────────────────────────────────────────────
// HARNESS
// ──────────────────────────────────────────────

var (
	admin   = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
	pickup  = domain.Point{Lat: -6.2000, Lng: 106.8166}
	dropoff = domain.Point{Lat: -6.1751, Lng: 106.8650}
)

func rider(id string) domain.Actor  { return domain.Actor{UserID: id, Role: domain.RoleRider} }
func driver(id string) domain.Actor { return domain.Actor{UserID: id, Role: domain.RoleDriver} }

// harness wires the real services over the in-memory store.
type harness struct {
	store       *memory.Store
	broadcaster *RecordingBroadcaster
	locations   *MockLocationStore
	locks       *MockLockStore
	fares       *service.FareCalculator
	ledger      *service.Ledger
	machine     *service.TripStateMachine
	coordinator *service.AssignmentCoordinator
	trips       *service.TripService
	drivers     *service.DriverService
	receipts    *service.ReceiptService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, &RecordingBroadcaster{})
}

func newHarnessWith(t *testing.T, broadcaster service.Broadcaster) *harness {
	t.Helper()

	fares, err := service.NewFareCalculator(service.DefaultRateTable(), 1500)
	if err != nil {
		t.Fatalf("fare calculator: %v", err)
	}

	h := &harness{
		store:     memory.NewStore(),
		locations: NewMockLocationStore(),
		locks:     NewMockLockStore(),
		fares:     fares,
	}
	if rb, ok := broadcaster.(*RecordingBroadcaster); ok {
		h.broadcaster = rb
	}

	notifications := service.NewNotificationService(broadcaster)
	h.ledger = service.NewLedger(h.store, fares, notifications)
	h.machine = service.NewTripStateMachine(h.store, h.ledger)
	h.coordinator = service.NewAssignmentCoordinator(h.store, h.locks, time.Second)
	h.trips = service.NewTripService(service.TripServiceDeps{
		Store:           h.store,
		StateMachine:    h.machine,
		Coordinator:     h.coordinator,
		Ledger:          h.ledger,
		Fares:           fares,
		LocationStore:   h.locations,
		Notifications:   notifications,
		AverageSpeedKmh: 30,
	})
	h.drivers = service.NewDriverService(h.store, h.locations)
	h.receipts = service.NewReceiptService(h.store, fares, "IDR")
	return h
}

// addDriver registers and verifies a driver.
func (h *harness) addDriver(t *testing.T, id string, class domain.VehicleClass) {
	t.Helper()
	ctx := context.Background()
	_, err := h.drivers.Register(ctx, admin, service.RegisterDriverRequest{
		UserID:       id,
		Name:         "Driver " + id,
		Phone:        "+62-" + id,
		VehicleClass: class,
		PlateNumber:  "B " + id,
	})
	if err != nil {
		t.Fatalf("register driver %s: %v", id, err)
	}
	if _, err := h.drivers.Verify(ctx, admin, id, true); err != nil {
		t.Fatalf("verify driver %s: %v", id, err)
	}
}

// fund tops up an owner's wallet.
func (h *harness) fund(t *testing.T, owner string, amount int64) {
	t.Helper()
	if _, err := h.ledger.TopUp(context.Background(), owner, amount, "seed:"+uuid.New().String()); err != nil {
		t.Fatalf("fund %s: %v", owner, err)
	}
}

func (h *harness) balance(t *testing.T, owner string) int64 {
	t.Helper()
	w, err := h.ledger.GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance of %s: %v", owner, err)
	}
	return w.Balance
}

func (h *harness) history(t *testing.T, owner string) []*domain.WalletTransaction {
	t.Helper()
	txns, err := h.ledger.History(context.Background(), owner, 200)
	if err != nil {
		t.Fatalf("history of %s: %v", owner, err)
	}
	return txns
}

func (h *harness) requestRide(t *testing.T, riderID string, class domain.VehicleClass) *domain.Trip {
	t.Helper()
	trip, err := h.trips.RequestTrip(context.Background(), service.RequestTripRequest{
		Actor:        rider(riderID),
		Kind:         domain.TripKindRide,
		Pickup:       pickup,
		Dropoff:      dropoff,
		VehicleClass: class,
	})
	if err != nil {
		t.Fatalf("request trip: %v", err)
	}
	return trip
}

// startTrip takes a requested trip through accept, arrive and start.
func (h *harness) startTrip(t *testing.T, tripID, driverID string) *domain.Trip {
	t.Helper()
	ctx := context.Background()
	if _, err := h.trips.AcceptTrip(ctx, driver(driverID), tripID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.trips.ArriveAtPickup(ctx, driver(driverID), tripID); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	trip, err := h.trips.Start(ctx, driver(driverID), tripID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return trip
}

// seedTrip stores a trip directly, bypassing pricing, so amounts are exact.
func (h *harness) seedTrip(t *testing.T, trip *domain.Trip) *domain.Trip {
	t.Helper()
	if trip.ID == "" {
		trip.ID = uuid.New().String()
	}
	if trip.Kind == "" {
		trip.Kind = domain.TripKindRide
	}
	if trip.VehicleClass == "" {
		trip.VehicleClass = domain.VehicleClassCar
	}
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = time.Now().UTC()
	}
	trip.Pickup, trip.Dropoff = pickup, dropoff
	trip.SurgeBps = service.NoSurgeBps
	trip.UpdatedAt = trip.CreatedAt
	if err := h.store.Trips().Create(context.Background(), trip); err != nil {
		t.Fatalf("seed trip: %v", err)
	}
	return trip
}

func (h *harness) trip(t *testing.T, id string) *domain.Trip {
	t.Helper()
	trip, err := h.store.Trips().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get trip %s: %v", id, err)
	}
	return trip
}

func (h *harness) driverStatus(t *testing.T, id string) domain.DriverStatus {
	t.Helper()
	d, err := h.store.Drivers().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get driver %s: %v", id, err)
	}
	return d.Status
}

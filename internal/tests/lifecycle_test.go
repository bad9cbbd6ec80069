package tests

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"hailing/internal/domain"
	"hailing/internal/service"
)

func TestTripLifecycle_HappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	if err := h.drivers.SetOnline(ctx, service.UpdateLocationRequest{DriverID: "d1", Lat: pickup.Lat, Lng: pickup.Lng}); err != nil {
		t.Fatalf("online: %v", err)
	}
	h.fund(t, "r1", 1_000_000)

	trip := h.requestRide(t, "r1", domain.VehicleClassCar)
	if trip.Status != domain.TripStatusRequested {
		t.Fatalf("expected REQUESTED, got %s", trip.Status)
	}
	if trip.EstimatedFare <= 0 || trip.DistanceMeters <= 0 || trip.DurationMinutes <= 0 {
		t.Fatalf("trip was not priced: %+v", trip)
	}

	h.startTrip(t, trip.ID, "d1")
	if got := h.driverStatus(t, "d1"); got != domain.DriverStatusOnTrip {
		t.Fatalf("expected driver ON_TRIP during trip, got %s", got)
	}

	done, err := h.trips.Complete(ctx, driver("d1"), trip.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.TripStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}
	if done.FinalFare == nil || *done.FinalFare != trip.EstimatedFare {
		t.Fatalf("expected final fare %d, got %v", trip.EstimatedFare, done.FinalFare)
	}

	commission, earnings := h.fares.SettlementSplit(trip.EstimatedFare)
	if done.Commission == nil || *done.Commission != commission {
		t.Fatalf("expected commission %d, got %v", commission, done.Commission)
	}
	if got := h.balance(t, "r1"); got != 1_000_000-trip.EstimatedFare {
		t.Errorf("rider balance = %d, want %d", got, 1_000_000-trip.EstimatedFare)
	}
	if got := h.balance(t, "d1"); got != earnings {
		t.Errorf("driver balance = %d, want %d", got, earnings)
	}
	if got := h.driverStatus(t, "d1"); got != domain.DriverStatusOnline {
		t.Errorf("expected driver back ONLINE, got %s", got)
	}

	events, err := h.trips.Events(ctx, rider("r1"), trip.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []domain.TripStatus{
		domain.TripStatusRequested,
		domain.TripStatusAssigned,
		domain.TripStatusDriverArrived,
		domain.TripStatusInProgress,
		domain.TripStatusCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if e.ToStatus != want[i] {
			t.Errorf("event %d: to = %s, want %s", i, e.ToStatus, want[i])
		}
		if i > 0 && e.FromStatus != want[i-1] {
			t.Errorf("event %d: from = %s, want %s", i, e.FromStatus, want[i-1])
		}
	}

	topic := service.TripTopic(trip.ID)
	for _, et := range []service.EventType{
		service.EventTripRequested,
		service.EventTripAssigned,
		service.EventTripDriverArrived,
		service.EventTripStarted,
		service.EventTripCompleted,
	} {
		if n := h.broadcaster.Count(topic, et); n != 1 {
			t.Errorf("expected one %s on the trip topic, got %d", et, n)
		}
	}
	if n := h.broadcaster.Count(service.TopicAvailableDrivers, service.EventTripUnavailable); n != 1 {
		t.Errorf("expected trip to leave the open pool once, got %d", n)
	}
	if n := h.broadcaster.Count(service.WalletTopic("d1"), service.EventWalletUpdated); n != 1 {
		t.Errorf("expected one wallet update for the driver, got %d", n)
	}

	for _, owner := range []string{"r1", "d1"} {
		report, err := h.ledger.Reconcile(ctx, owner)
		if err != nil {
			t.Fatalf("reconcile %s: %v", owner, err)
		}
		if !report.Match {
			t.Errorf("wallet of %s does not reconcile: %+v", owner, report)
		}
	}
}

func TestTripLifecycle_ExactSettlement(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	h.fund(t, "r1", 10000)
	trip := h.seedTrip(t, &domain.Trip{
		RequesterID:   "r1",
		DriverID:      "d1",
		Status:        domain.TripStatusInProgress,
		EstimatedFare: 4000,
	})

	done, err := h.trips.Complete(ctx, driver("d1"), trip.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if *done.FinalFare != 4000 || *done.Commission != 600 {
		t.Fatalf("expected fare 4000 and commission 600, got %d and %d", *done.FinalFare, *done.Commission)
	}
	if got := h.balance(t, "r1"); got != 6000 {
		t.Errorf("payer balance = %d, want 6000", got)
	}
	if got := h.balance(t, "d1"); got != 3400 {
		t.Errorf("driver balance = %d, want 3400", got)
	}

	payer := h.history(t, "r1")
	if len(payer) != 2 || payer[0].Amount != -4000 || payer[0].Reference != domain.SettlementReference(trip.ID, "payer") {
		t.Errorf("unexpected payer history: %+v", payer)
	}
	earned := h.history(t, "d1")
	if len(earned) != 1 || earned[0].Amount != 3400 || earned[0].Kind != domain.TransactionKindPayment {
		t.Errorf("unexpected driver history: %+v", earned)
	}
}

func TestTripLifecycle_InsufficientBalanceKeepsTripOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	h.fund(t, "r1", 1000)
	trip := h.seedTrip(t, &domain.Trip{
		RequesterID:   "r1",
		DriverID:      "d1",
		Status:        domain.TripStatusInProgress,
		EstimatedFare: 4000,
	})

	_, err := h.trips.Complete(ctx, driver("d1"), trip.ID)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	stored := h.trip(t, trip.ID)
	if stored.Status != domain.TripStatusInProgress {
		t.Errorf("expected trip to stay IN_PROGRESS, got %s", stored.Status)
	}
	if stored.FinalFare != nil {
		t.Errorf("expected no final fare, got %d", *stored.FinalFare)
	}
	if got := h.balance(t, "r1"); got != 1000 {
		t.Errorf("payer balance = %d, want 1000", got)
	}
	if got := len(h.history(t, "r1")); got != 1 {
		t.Errorf("expected only the top-up in payer history, got %d entries", got)
	}
	if got := len(h.history(t, "d1")); got != 0 {
		t.Errorf("expected no driver entries, got %d", got)
	}
}

func TestTripLifecycle_CompleteTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	h.fund(t, "r1", 10000)
	trip := h.seedTrip(t, &domain.Trip{
		RequesterID:   "r1",
		DriverID:      "d1",
		Status:        domain.TripStatusInProgress,
		EstimatedFare: 4000,
	})

	if _, err := h.trips.Complete(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err := h.trips.Complete(ctx, driver("d1"), trip.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if got := len(h.history(t, "r1")); got != 2 {
		t.Errorf("expected top-up and one payment, got %d entries", got)
	}
	if got := len(h.history(t, "d1")); got != 1 {
		t.Errorf("expected one driver payment, got %d entries", got)
	}
	if got := h.balance(t, "r1"); got != 6000 {
		t.Errorf("payer balance = %d, want 6000", got)
	}
}

func TestTripLifecycle_CannotCancelInProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.addDriver(t, "d1", domain.VehicleClassCar)
	trip := h.seedTrip(t, &domain.Trip{
		RequesterID:   "r1",
		DriverID:      "d1",
		Status:        domain.TripStatusInProgress,
		EstimatedFare: 4000,
	})

	for _, a := range []domain.Actor{rider("r1"), driver("d1"), admin} {
		_, err := h.trips.Cancel(context.Background(), a, trip.ID, "changed my mind")
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", a.Role, err)
		}
	}
	if got := h.trip(t, trip.ID).Status; got != domain.TripStatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", got)
	}
}

func TestTripLifecycle_CancelWhileAssigned(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	trip := h.requestRide(t, "r1", domain.VehicleClassCar)
	if _, err := h.trips.AcceptTrip(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	cancelled, err := h.trips.Cancel(ctx, rider("r1"), trip.ID, "  driver too far  ")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.TripStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.CancelReason != "driver too far" || cancelled.CancelledBy != domain.RoleRider {
		t.Errorf("unexpected cancel details: reason=%q by=%s", cancelled.CancelReason, cancelled.CancelledBy)
	}
	if got := h.driverStatus(t, "d1"); got != domain.DriverStatusOnline {
		t.Errorf("expected driver released to ONLINE, got %s", got)
	}

	assignments, err := h.store.Assignments().ListByTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(assignments) != 1 || assignments[0].Live() {
		t.Errorf("expected one superseded assignment, got %+v", assignments)
	}

	// The released driver can take the rider's next trip.
	next := h.requestRide(t, "r1", domain.VehicleClassCar)
	if _, err := h.trips.AcceptTrip(ctx, driver("d1"), next.ID); err != nil {
		t.Fatalf("accept after cancel: %v", err)
	}
	if len(h.history(t, "r1")) != 0 {
		t.Error("cancellation must not move money")
	}
}

func TestTripLifecycle_ActorPermissions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	h.addDriver(t, "d2", domain.VehicleClassCar)

	if _, err := h.trips.RequestTrip(ctx, service.RequestTripRequest{
		Actor:        driver("d1"),
		Kind:         domain.TripKindRide,
		Pickup:       pickup,
		Dropoff:      dropoff,
		VehicleClass: domain.VehicleClassCar,
	}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("driver requesting a trip: expected ErrUnauthorized, got %v", err)
	}

	trip := h.requestRide(t, "r1", domain.VehicleClassCar)
	if _, err := h.trips.AcceptTrip(ctx, rider("r2"), trip.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("rider accepting: expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.trips.Cancel(ctx, rider("r2"), trip.ID, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("stranger cancelling: expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.trips.GetTrip(ctx, rider("r2"), trip.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("stranger reading: expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.trips.GetTrip(ctx, driver("d2"), trip.ID); err != nil {
		t.Errorf("driver reading an open trip: %v", err)
	}

	if _, err := h.trips.AcceptTrip(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.trips.ArriveAtPickup(ctx, driver("d2"), trip.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("other driver arriving: expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.trips.ArriveAtPickup(ctx, rider("r1"), trip.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("rider arriving: expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.trips.GetTrip(ctx, driver("d2"), trip.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("other driver reading an assigned trip: expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.trips.Start(ctx, driver("d1"), trip.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("skipping arrival: expected ErrInvalidTransition, got %v", err)
	}

	// Admins may walk any edge.
	if _, err := h.trips.ArriveAtPickup(ctx, admin, trip.ID); err != nil {
		t.Fatalf("admin arrive: %v", err)
	}
	if _, err := h.trips.Start(ctx, rider("r1"), trip.ID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("rider starting: expected ErrUnauthorized, got %v", err)
	}
	// The system actor only expires open requests.
	if _, err := h.trips.Cancel(ctx, domain.SystemActor, trip.ID, "expired"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("system cancelling an arrived trip: expected ErrUnauthorized, got %v", err)
	}
}

func TestTripLifecycle_OneActiveTripPerRequester(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first := h.requestRide(t, "r1", domain.VehicleClassCar)
	_, err := h.trips.RequestTrip(ctx, service.RequestTripRequest{
		Actor:        rider("r1"),
		Kind:         domain.TripKindRide,
		Pickup:       pickup,
		Dropoff:      dropoff,
		VehicleClass: domain.VehicleClassMotorbike,
	})
	if !errors.Is(err, domain.ErrActiveTripExists) {
		t.Fatalf("expected ErrActiveTripExists, got %v", err)
	}

	if _, err := h.trips.Cancel(ctx, rider("r1"), first.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.requestRide(t, "r1", domain.VehicleClassCar)
}

func TestTripLifecycle_RequestValidation(t *testing.T) {
	t.Parallel()

	heavy := decimal.RequireFromString("7.2")
	tests := []struct {
		name string
		req  service.RequestTripRequest
	}{
		{
			name: "pickup out of range",
			req: service.RequestTripRequest{
				Kind: domain.TripKindRide, Pickup: domain.Point{Lat: 91, Lng: 0}, Dropoff: dropoff, VehicleClass: domain.VehicleClassCar,
			},
		},
		{
			name: "dropoff out of range",
			req: service.RequestTripRequest{
				Kind: domain.TripKindRide, Pickup: pickup, Dropoff: domain.Point{Lat: 0, Lng: 181}, VehicleClass: domain.VehicleClassCar,
			},
		},
		{
			name: "unknown kind",
			req: service.RequestTripRequest{
				Kind: "SHUTTLE", Pickup: pickup, Dropoff: dropoff, VehicleClass: domain.VehicleClassCar,
			},
		},
		{
			name: "unknown vehicle class",
			req: service.RequestTripRequest{
				Kind: domain.TripKindRide, Pickup: pickup, Dropoff: dropoff, VehicleClass: "BUS",
			},
		},
		{
			name: "ride with cargo",
			req: service.RequestTripRequest{
				Kind: domain.TripKindRide, Pickup: pickup, Dropoff: dropoff, VehicleClass: domain.VehicleClassCar,
				Cargo: &service.CargoInput{WeightKg: heavy, RecipientName: "Sari", RecipientPhone: "0812"},
			},
		},
		{
			name: "delivery without cargo",
			req: service.RequestTripRequest{
				Kind: domain.TripKindDelivery, Pickup: pickup, Dropoff: dropoff, VehicleClass: domain.VehicleClassCar,
			},
		},
		{
			name: "delivery with zero weight",
			req: service.RequestTripRequest{
				Kind: domain.TripKindDelivery, Pickup: pickup, Dropoff: dropoff, VehicleClass: domain.VehicleClassCar,
				Cargo: &service.CargoInput{WeightKg: decimal.Zero, RecipientName: "Sari", RecipientPhone: "0812"},
			},
		},
		{
			name: "delivery without recipient",
			req: service.RequestTripRequest{
				Kind: domain.TripKindDelivery, Pickup: pickup, Dropoff: dropoff, VehicleClass: domain.VehicleClassCar,
				Cargo: &service.CargoInput{WeightKg: heavy, RecipientName: " "},
			},
		},
	}

	h := newHarness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Actor = rider("r-" + tt.name)
			_, err := h.trips.RequestTrip(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestTripLifecycle_DeliveryVehicleRank(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "bike", domain.VehicleClassMotorbike)
	h.addDriver(t, "car", domain.VehicleClassCar)
	h.addDriver(t, "van", domain.VehicleClassVan)

	weight := decimal.RequireFromString("7.2")
	trip, err := h.trips.RequestTrip(ctx, service.RequestTripRequest{
		Actor:        rider("r1"),
		Kind:         domain.TripKindDelivery,
		Pickup:       pickup,
		Dropoff:      dropoff,
		VehicleClass: domain.VehicleClassCar,
		Cargo: &service.CargoInput{
			WeightKg:       weight,
			Description:    "documents",
			RecipientName:  "Sari",
			RecipientPhone: "+62-812",
		},
	})
	if err != nil {
		t.Fatalf("request delivery: %v", err)
	}
	if trip.Cargo == nil || trip.Cargo.WeightGrams != 7200 {
		t.Fatalf("expected 7200 g of cargo, got %+v", trip.Cargo)
	}

	want, err := h.fares.Estimate(service.EstimateInput{
		Kind:        domain.TripKindDelivery,
		DistanceKm:  service.MetersToKm(trip.DistanceMeters),
		DurationMin: trip.DurationMinutes,
		Class:       domain.VehicleClassCar,
		WeightKg:    weight,
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if trip.EstimatedFare != want {
		t.Errorf("estimated fare = %d, want %d", trip.EstimatedFare, want)
	}

	available, err := h.trips.ListAvailableFor(ctx, driver("bike"), "bike")
	if err != nil {
		t.Fatalf("list for bike: %v", err)
	}
	if len(available) != 0 {
		t.Errorf("a motorbike must not see a car delivery, got %d trips", len(available))
	}
	available, err = h.trips.ListAvailableFor(ctx, driver("van"), "van")
	if err != nil {
		t.Fatalf("list for van: %v", err)
	}
	if len(available) != 1 || available[0].ID != trip.ID {
		t.Errorf("a van should see the car delivery, got %d trips", len(available))
	}

	if _, err := h.trips.AcceptTrip(ctx, driver("bike"), trip.ID); !errors.Is(err, domain.ErrDriverIneligible) {
		t.Errorf("motorbike accepting: expected ErrDriverIneligible, got %v", err)
	}
	if _, err := h.trips.AcceptTrip(ctx, driver("van"), trip.ID); err != nil {
		t.Fatalf("van accepting: %v", err)
	}

	// Rides need the exact class.
	ride := h.requestRide(t, "r2", domain.VehicleClassCar)
	if _, err := h.trips.AcceptTrip(ctx, driver("bike"), ride.ID); !errors.Is(err, domain.ErrDriverIneligible) {
		t.Errorf("motorbike on a car ride: expected ErrDriverIneligible, got %v", err)
	}
	if _, err := h.trips.AcceptTrip(ctx, driver("car"), ride.ID); err != nil {
		t.Fatalf("car accepting ride: %v", err)
	}
}

func TestTripLifecycle_UpdateLocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	h.addDriver(t, "d2", domain.VehicleClassCar)
	h.fund(t, "r1", 1_000_000)
	trip := h.requestRide(t, "r1", domain.VehicleClassCar)
	here := domain.Point{Lat: -6.1900, Lng: 106.8300}

	if err := h.trips.UpdateLocation(ctx, driver("d1"), trip.ID, here); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("unassigned driver: expected ErrUnauthorized, got %v", err)
	}

	if _, err := h.trips.AcceptTrip(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := h.trips.UpdateLocation(ctx, driver("d1"), trip.ID, domain.Point{Lat: 100}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad coordinates: expected ErrValidation, got %v", err)
	}
	if err := h.trips.UpdateLocation(ctx, driver("d2"), trip.ID, here); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("other driver: expected ErrUnauthorized, got %v", err)
	}
	if err := h.trips.UpdateLocation(ctx, rider("r1"), trip.ID, here); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("rider: expected ErrUnauthorized, got %v", err)
	}
	if err := h.trips.UpdateLocation(ctx, driver("d1"), trip.ID, here); err != nil {
		t.Fatalf("update location: %v", err)
	}

	stored := h.trip(t, trip.ID)
	if stored.CurrentLocation == nil || *stored.CurrentLocation != here {
		t.Errorf("expected current location %+v, got %+v", here, stored.CurrentLocation)
	}
	if stored.Status != domain.TripStatusAssigned || stored.StatusVersion != 1 {
		t.Errorf("location must not touch status: %s v%d", stored.Status, stored.StatusVersion)
	}
	if pos, _ := h.locations.GetLocation(ctx, "d1"); pos == nil || pos.Lat != here.Lat {
		t.Errorf("expected driver position in the geo index, got %+v", pos)
	}

	var located bool
	for _, p := range h.broadcaster.Events() {
		if p.Event.Type == service.EventTripLocation && p.Key == "location:d1" && p.Topic == service.TripTopic(trip.ID) {
			located = true
		}
	}
	if !located {
		t.Error("expected a throttled trip.location event")
	}

	if _, err := h.trips.ArriveAtPickup(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if _, err := h.trips.Start(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.trips.Complete(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := h.trips.UpdateLocation(ctx, driver("d1"), trip.ID, here); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("finished trip: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTripLifecycle_ListMineAndAvailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	near := h.requestRide(t, "r1", domain.VehicleClassCar)
	far, err := h.trips.RequestTrip(ctx, service.RequestTripRequest{
		Actor:        rider("r2"),
		Kind:         domain.TripKindRide,
		Pickup:       domain.Point{Lat: -6.3000, Lng: 106.9000},
		Dropoff:      dropoff,
		VehicleClass: domain.VehicleClassCar,
	})
	if err != nil {
		t.Fatalf("request far trip: %v", err)
	}
	h.requestRide(t, "r3", domain.VehicleClassMotorbike)

	// Put the driver next to the far pickup so it sorts first.
	if err := h.drivers.SetOnline(ctx, service.UpdateLocationRequest{DriverID: "d1", Lat: -6.2990, Lng: 106.8990}); err != nil {
		t.Fatalf("online: %v", err)
	}
	available, err := h.trips.ListAvailableFor(ctx, driver("d1"), "d1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("expected two car rides, got %d", len(available))
	}
	if available[0].ID != far.ID || available[1].ID != near.ID {
		t.Errorf("expected nearest pickup first")
	}

	if _, err := h.trips.ListAvailableFor(ctx, driver("d2"), "d1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("listing for another driver: expected ErrUnauthorized, got %v", err)
	}

	mine, err := h.trips.ListMine(ctx, rider("r1"), 0)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != near.ID {
		t.Errorf("expected only r1's trip, got %d trips", len(mine))
	}
}

func TestTripLifecycle_LocationRacesTripEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness, tripID string)
		end   func(h *harness, tripID string) error
		want  domain.TripStatus
	}{
		{
			name:  "completed",
			setup: func(t *testing.T, h *harness, tripID string) { h.startTrip(t, tripID, "d1") },
			end: func(h *harness, tripID string) error {
				_, err := h.trips.Complete(context.Background(), driver("d1"), tripID)
				return err
			},
			want: domain.TripStatusCompleted,
		},
		{
			name: "cancelled",
			setup: func(t *testing.T, h *harness, tripID string) {
				if _, err := h.trips.AcceptTrip(context.Background(), driver("d1"), tripID); err != nil {
					t.Fatalf("accept: %v", err)
				}
			},
			end: func(h *harness, tripID string) error {
				_, err := h.trips.Cancel(context.Background(), rider("r1"), tripID, "changed plans")
				return err
			},
			want: domain.TripStatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			h.addDriver(t, "d1", domain.VehicleClassCar)
			h.fund(t, "r1", 1_000_000)
			trip := h.requestRide(t, "r1", domain.VehicleClassCar)
			tt.setup(t, h, trip.ID)

			// The trip ends after UpdateLocation has read it but before it writes.
			store := &InterleavingStore{Store: h.store}
			store.AfterRead = func(id string) {
				if err := tt.end(h, id); err != nil {
					t.Errorf("end trip: %v", err)
				}
			}
			trips := service.NewTripService(service.TripServiceDeps{
				Store:           store,
				StateMachine:    h.machine,
				Coordinator:     h.coordinator,
				Ledger:          h.ledger,
				Fares:           h.fares,
				LocationStore:   h.locations,
				Notifications:   service.NewNotificationService(h.broadcaster),
				AverageSpeedKmh: 30,
			})

			err := trips.UpdateLocation(ctx, driver("d1"), trip.ID, domain.Point{Lat: 1, Lng: 1})
			if !errors.Is(err, service.ErrTripNotOpenForLocation) {
				t.Fatalf("expected ErrTripNotOpenForLocation, got %v", err)
			}

			stored := h.trip(t, trip.ID)
			if stored.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, stored.Status)
			}
			if stored.CurrentLocation != nil {
				t.Errorf("finished trip got a location: %+v", stored.CurrentLocation)
			}
			if n := h.broadcaster.Count(service.TripTopic(trip.ID), service.EventTripLocation); n != 0 {
				t.Errorf("expected no location broadcast, got %d", n)
			}
		})
	}
}

func TestTripLifecycle_CancelReasonKeepsCharactersWhole(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	trip := h.requestRide(t, "r1", domain.VehicleClassCar)
	reason := "a" + strings.Repeat("é", 300)

	cancelled, err := h.trips.Cancel(ctx, rider("r1"), trip.ID, reason)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got := h.trip(t, trip.ID).CancelReason
	if got != cancelled.CancelReason {
		t.Errorf("stored reason differs from returned reason")
	}
	if !utf8.ValidString(got) {
		t.Fatal("stored reason is not valid UTF-8")
	}
	// One ASCII byte plus 249 two-byte characters; the 250th would cross 500 bytes.
	if len(got) != 499 || !strings.HasPrefix(reason, got) {
		t.Errorf("unexpected reason of %d bytes", len(got))
	}
}

func TestDriverPresence_OfflineRefusedDuringTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.addDriver(t, "d1", domain.VehicleClassCar)
	h.fund(t, "r1", 1_000_000)
	trip := h.requestRide(t, "r1", domain.VehicleClassCar)
	h.startTrip(t, trip.ID, "d1")

	if err := h.drivers.SetOffline(ctx, "d1"); !errors.Is(err, service.ErrDriverOnTrip) {
		t.Fatalf("offline mid-trip: expected ErrDriverOnTrip, got %v", err)
	}
	if err := h.drivers.SetOnline(ctx, service.UpdateLocationRequest{DriverID: "d1", Lat: pickup.Lat, Lng: pickup.Lng}); err != nil {
		t.Fatalf("online mid-trip: %v", err)
	}
	if got := h.driverStatus(t, "d1"); got != domain.DriverStatusOnTrip {
		t.Fatalf("expected ON_TRIP, got %s", got)
	}

	if _, err := h.trips.Complete(ctx, driver("d1"), trip.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := h.drivers.SetOffline(ctx, "d1"); err != nil {
		t.Fatalf("offline after trip: %v", err)
	}
	if got := h.driverStatus(t, "d1"); got != domain.DriverStatusOffline {
		t.Errorf("expected OFFLINE, got %s", got)
	}
	if err := h.drivers.SetOffline(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown driver: expected ErrNotFound, got %v", err)
	}
}

func TestDriverPresence_TripEndKeepsOfflineDriverOffline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		end  func(h *harness, tripID string) error
	}{
		{
			name: "completed",
			end: func(h *harness, tripID string) error {
				_, err := h.trips.Complete(context.Background(), driver("d1"), tripID)
				return err
			},
		},
		{
			name: "cancelled",
			end: func(h *harness, tripID string) error {
				_, err := h.trips.Cancel(context.Background(), admin, tripID, "vehicle broke down")
				return err
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ctx := context.Background()

			h.addDriver(t, "d1", domain.VehicleClassCar)
			h.fund(t, "r1", 1_000_000)
			trip := h.requestRide(t, "r1", domain.VehicleClassCar)
			if _, err := h.trips.AcceptTrip(ctx, driver("d1"), trip.ID); err != nil {
				t.Fatalf("accept: %v", err)
			}
			if _, err := h.trips.ArriveAtPickup(ctx, driver("d1"), trip.ID); err != nil {
				t.Fatalf("arrive: %v", err)
			}
			if tt.name == "completed" {
				if _, err := h.trips.Start(ctx, driver("d1"), trip.ID); err != nil {
					t.Fatalf("start: %v", err)
				}
			}

			// Taken off the road while the trip was still open.
			if err := h.store.Drivers().UpdateStatus(ctx, "d1", domain.DriverStatusOffline); err != nil {
				t.Fatalf("force offline: %v", err)
			}

			if err := tt.end(h, trip.ID); err != nil {
				t.Fatalf("end trip: %v", err)
			}
			if got := h.driverStatus(t, "d1"); got != domain.DriverStatusOffline {
				t.Errorf("expected driver to stay OFFLINE, got %s", got)
			}
		})
	}
}

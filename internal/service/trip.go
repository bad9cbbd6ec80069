package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/redis"
	"hailing/internal/repository"
)

const (
	defaultListLimit   = 50
	availableScanLimit = 200
	maxCancelReason    = 500
)

// TripServiceDeps holds the collaborators of a TripService.
type TripServiceDeps struct {
	Store           repository.Store
	StateMachine    *TripStateMachine
	Coordinator     *AssignmentCoordinator
	Ledger          *Ledger
	Fares           *FareCalculator
	Surge           *SurgeService
	LocationStore   redis.LocationStoreInterface
	Notifications   *NotificationService
	AverageSpeedKmh int64
}

// TripService is the entry point for every actor-facing trip operation. It
// validates input, delegates state changes to the state machine and the
// assignment coordinator, and publishes events after each commit.
type TripService struct {
	store           repository.Store
	machine         *TripStateMachine
	coordinator     *AssignmentCoordinator
	ledger          *Ledger
	fares           *FareCalculator
	surge           *SurgeService
	locationStore   redis.LocationStoreInterface
	notifications   *NotificationService
	averageSpeedKmh int64
	now             func() time.Time
}

// NewTripService creates a new TripService.
func NewTripService(deps TripServiceDeps) *TripService {
	if deps.Notifications == nil {
		deps.Notifications = NewNotificationService(nil)
	}
	if deps.AverageSpeedKmh <= 0 {
		deps.AverageSpeedKmh = 30
	}
	return &TripService{
		store:           deps.Store,
		machine:         deps.StateMachine,
		coordinator:     deps.Coordinator,
		ledger:          deps.Ledger,
		fares:           deps.Fares,
		surge:           deps.Surge,
		locationStore:   deps.LocationStore,
		notifications:   deps.Notifications,
		averageSpeedKmh: deps.AverageSpeedKmh,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CargoInput describes the parcel of a delivery request.
type CargoInput struct {
	WeightKg       decimal.Decimal
	Description    string
	RecipientName  string
	RecipientPhone string
}

// RequestTripRequest contains the parameters for requesting a trip.
type RequestTripRequest struct {
	Actor        domain.Actor
	Kind         domain.TripKind
	Pickup       domain.Point
	Dropoff      domain.Point
	VehicleClass domain.VehicleClass
	Cargo        *CargoInput
}

// RequestTrip prices and opens a new trip for the requester.
func (s *TripService) RequestTrip(ctx context.Context, req RequestTripRequest) (*domain.Trip, error) {
	if req.Actor.Role != domain.RoleRider || req.Actor.UserID == "" {
		return nil, fmt.Errorf("%w: only riders request trips", domain.ErrUnauthorized)
	}
	cargo, err := validateTripRequest(req)
	if err != nil {
		return nil, err
	}

	distance, duration := RouteEstimate(req.Pickup, req.Dropoff, s.averageSpeedKmh)
	estimate := EstimateInput{
		Kind:        req.Kind,
		DistanceKm:  MetersToKm(distance),
		DurationMin: duration,
		Class:       req.VehicleClass,
	}
	if cargo != nil {
		estimate.WeightKg = GramsToKg(cargo.WeightGrams)
	}
	fare, err := s.fares.Estimate(estimate)
	if err != nil {
		return nil, err
	}

	surgeBps := int64(NoSurgeBps)
	if s.surge != nil {
		surgeBps = s.surge.MultiplierBps(ctx, req.Pickup)
	}
	fare = s.fares.ApplySurge(fare, surgeBps)

	now := s.now()
	trip := &domain.Trip{
		ID:              uuid.New().String(),
		Kind:            req.Kind,
		RequesterID:     req.Actor.UserID,
		Status:          domain.TripStatusRequested,
		VehicleClass:    req.VehicleClass,
		Pickup:          req.Pickup,
		Dropoff:         req.Dropoff,
		Cargo:           cargo,
		DistanceMeters:  distance,
		DurationMinutes: duration,
		SurgeBps:        surgeBps,
		EstimatedFare:   fare,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		active, err := tx.Trips().HasActiveByRequester(ctx, trip.RequesterID)
		if err != nil {
			return fmt.Errorf("check active trips: %w", err)
		}
		if active {
			return domain.ErrActiveTripExists
		}
		if err := tx.Trips().Create(ctx, trip); err != nil {
			// The partial unique index catches a request racing this one.
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.ErrActiveTripExists
			}
			return fmt.Errorf("create trip: %w", err)
		}
		return appendTripEvent(ctx, tx, trip.ID, "", domain.TripStatusRequested, req.Actor, now)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("trip requested",
		zap.String("trip_id", trip.ID),
		zap.String("requester_id", trip.RequesterID),
		zap.String("kind", string(trip.Kind)),
		zap.Int64("estimated_fare", trip.EstimatedFare),
		zap.Int64("surge_bps", trip.SurgeBps),
	)
	s.notifications.TripRequested(trip)
	return trip, nil
}

// AssignDriver lets an administrator bind a driver to an open trip.
func (s *TripService) AssignDriver(ctx context.Context, actor domain.Actor, tripID, driverID string) (*domain.Trip, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only administrators assign drivers", domain.ErrUnauthorized)
	}
	return s.claim(ctx, ClaimRequest{TripID: tripID, DriverID: driverID, Actor: actor})
}

// AcceptTrip lets a driver claim an open trip for themselves.
func (s *TripService) AcceptTrip(ctx context.Context, actor domain.Actor, tripID string) (*domain.Trip, error) {
	if actor.Role != domain.RoleDriver {
		return nil, fmt.Errorf("%w: only drivers accept trips", domain.ErrUnauthorized)
	}
	return s.claim(ctx, ClaimRequest{TripID: tripID, DriverID: actor.UserID, Actor: actor})
}

// ArriveAtPickup records that the driver reached the pickup point.
func (s *TripService) ArriveAtPickup(ctx context.Context, actor domain.Actor, tripID string) (*domain.Trip, error) {
	return s.transition(ctx, actor, tripID, domain.TripStatusDriverArrived, "")
}

// Start records that the ride or delivery is underway.
func (s *TripService) Start(ctx context.Context, actor domain.Actor, tripID string) (*domain.Trip, error) {
	return s.transition(ctx, actor, tripID, domain.TripStatusInProgress, "")
}

// Complete finishes the trip and settles the fare in the same transaction.
// Completing twice yields InvalidTransition and no second settlement.
func (s *TripService) Complete(ctx context.Context, actor domain.Actor, tripID string) (*domain.Trip, error) {
	return s.transition(ctx, actor, tripID, domain.TripStatusCompleted, "")
}

// Cancel cancels a trip that has not started yet.
func (s *TripService) Cancel(ctx context.Context, actor domain.Actor, tripID, reason string) (*domain.Trip, error) {
	reason = truncateUTF8(strings.TrimSpace(reason), maxCancelReason)
	return s.transition(ctx, actor, tripID, domain.TripStatusCancelled, reason)
}

// UpdateLocation stores the assigned driver's current position on the trip
// and publishes it, throttled per driver. Status is never touched.
func (s *TripService) UpdateLocation(ctx context.Context, actor domain.Actor, tripID string, loc domain.Point) error {
	if tripID == "" {
		return ErrInvalidTripID
	}
	if !loc.Valid() {
		return ErrInvalidLocation
	}

	trip, err := s.store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return notFound(err, "trip", tripID)
	}
	if actor.Role != domain.RoleDriver || trip.DriverID != actor.UserID {
		return fmt.Errorf("%w: only the assigned driver reports trip location", domain.ErrUnauthorized)
	}
	if !trip.Status.Active() {
		return ErrTripNotOpenForLocation
	}

	// The trip may have finished since it was read; the write re-checks.
	if err := s.store.Trips().UpdateLocation(ctx, tripID, actor.UserID, loc, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrTripNotOpenForLocation
		}
		return notFound(err, "trip", tripID)
	}
	if s.locationStore != nil {
		if err := s.locationStore.UpdateLocation(ctx, actor.UserID, loc.Lat, loc.Lng); err != nil {
			zap.L().Warn("driver geo index update failed", zap.String("driver_id", actor.UserID), zap.Error(err))
		}
	}

	trip.CurrentLocation = &loc
	s.notifications.TripLocation(trip, actor.UserID, loc)
	return nil
}

// ListAvailableFor returns open trips the driver could claim, nearest pickup
// first when the driver's position is known.
func (s *TripService) ListAvailableFor(ctx context.Context, actor domain.Actor, driverID string) ([]*domain.Trip, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if actor.Role != domain.RoleAdmin && !(actor.Role == domain.RoleDriver && actor.UserID == driverID) {
		return nil, fmt.Errorf("%w: cannot list trips for another driver", domain.ErrUnauthorized)
	}

	driver, err := s.store.Drivers().GetByID(ctx, driverID)
	if err != nil {
		return nil, notFound(err, "driver", driverID)
	}
	if !driver.Verified {
		return nil, ErrDriverNotVerified
	}

	open, err := s.store.Trips().ListByStatus(ctx, domain.TripStatusRequested, availableScanLimit)
	if err != nil {
		return nil, err
	}

	trips := make([]*domain.Trip, 0, len(open))
	for _, t := range open {
		if driver.VehicleClass.Serves(t.Kind, t.VehicleClass) && t.RequesterID != driverID {
			trips = append(trips, t)
		}
	}

	if s.locationStore == nil || len(trips) < 2 {
		return trips, nil
	}
	pos, err := s.locationStore.GetLocation(ctx, driverID)
	if err != nil || pos == nil {
		return trips, nil
	}
	here := domain.Point{Lat: pos.Lat, Lng: pos.Lng}
	distances := make(map[string]int64, len(trips))
	for _, t := range trips {
		distances[t.ID], _ = RouteEstimate(here, t.Pickup, 0)
	}
	sort.SliceStable(trips, func(i, j int) bool {
		return distances[trips[i].ID] < distances[trips[j].ID]
	})
	return trips, nil
}

// GetTrip returns the current state of a trip. Participants and admins can
// read any of their trips; drivers can also read trips that are still open.
func (s *TripService) GetTrip(ctx context.Context, actor domain.Actor, tripID string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	trip, err := s.store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return nil, notFound(err, "trip", tripID)
	}
	if canView(actor, trip) || (actor.Role == domain.RoleDriver && trip.Status == domain.TripStatusRequested) {
		return trip, nil
	}
	return nil, fmt.Errorf("%w: trip %s", domain.ErrUnauthorized, tripID)
}

// ListMine returns the actor's trips as requester or driver, newest first.
func (s *TripService) ListMine(ctx context.Context, actor domain.Actor, limit int) ([]*domain.Trip, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	return s.store.Trips().ListByParticipant(ctx, actor.UserID, limit)
}

// Events returns the transition audit trail of a trip.
func (s *TripService) Events(ctx context.Context, actor domain.Actor, tripID string) ([]*domain.TripEvent, error) {
	if _, err := s.GetTrip(ctx, actor, tripID); err != nil {
		return nil, err
	}
	return s.store.Trips().ListEvents(ctx, tripID)
}

// Refund credits the requester of a completed trip. Each trip can be refunded
// once and never for more than its final fare.
func (s *TripService) Refund(ctx context.Context, actor domain.Actor, tripID string, amount int64) (*domain.WalletTransaction, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only administrators refund trips", domain.ErrUnauthorized)
	}
	trip, err := s.GetTrip(ctx, actor, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != domain.TripStatusCompleted || trip.FinalFare == nil {
		return nil, fmt.Errorf("%w: only completed trips can be refunded", domain.ErrInvalidTransition)
	}
	if amount <= 0 || amount > *trip.FinalFare {
		return nil, fmt.Errorf("%w: refund must be between 1 and %d", domain.ErrValidation, *trip.FinalFare)
	}

	entry, err := s.ledger.Refund(ctx, trip.RequesterID, amount, domain.SettlementReference(trip.ID, "refund"))
	if err != nil {
		return nil, err
	}
	zap.L().Info("trip refunded",
		zap.String("trip_id", trip.ID),
		zap.String("requester_id", trip.RequesterID),
		zap.Int64("amount", amount),
		zap.String("actor_id", actor.UserID),
	)
	return entry, nil
}

// Statistics summarises trips for administrators. GrossRevenue is the sum of
// final fares as charged; NetRevenue is what remains after refunds.
type Statistics struct {
	Total            int64                       `json:"total"`
	ByStatus         map[domain.TripStatus]int64 `json:"by_status"`
	CompletionRate   float64                     `json:"completion_rate"`
	CancellationRate float64                     `json:"cancellation_rate"`
	GrossRevenue     int64                       `json:"gross_revenue"`
	Refunded         int64                       `json:"refunded"`
	NetRevenue       int64                       `json:"net_revenue"`
	CommissionEarned int64                       `json:"commission_earned"`
	AverageFare      int64                       `json:"average_fare"`
}

// Statistics aggregates counts by status, completion and cancellation rates,
// and revenue. Rates are over terminal trips.
func (s *TripService) Statistics(ctx context.Context, actor domain.Actor) (*Statistics, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: statistics are for administrators", domain.ErrUnauthorized)
	}

	raw, err := s.store.Trips().Stats(ctx)
	if err != nil {
		return nil, err
	}

	out := &Statistics{
		Total:            raw.Total,
		ByStatus:         make(map[domain.TripStatus]int64, len(domain.AllTripStatuses)),
		GrossRevenue:     raw.GrossRevenue,
		Refunded:         raw.Refunded,
		NetRevenue:       raw.GrossRevenue - raw.Refunded,
		CommissionEarned: raw.CommissionEarned,
	}
	for _, st := range domain.AllTripStatuses {
		out.ByStatus[st] = raw.ByStatus[st]
	}

	completed := raw.ByStatus[domain.TripStatusCompleted]
	cancelled := raw.ByStatus[domain.TripStatusCancelled]
	if finished := completed + cancelled; finished > 0 {
		out.CompletionRate = ratio(completed, finished)
		out.CancellationRate = ratio(cancelled, finished)
	}
	if completed > 0 {
		out.AverageFare = raw.GrossRevenue / completed
	}
	return out, nil
}

// ratio returns part/whole rounded to four decimals.
func ratio(part, whole int64) float64 {
	f, _ := decimal.NewFromInt(part).DivRound(decimal.NewFromInt(whole), 4).Float64()
	return f
}

func (s *TripService) claim(ctx context.Context, req ClaimRequest) (*domain.Trip, error) {
	res, err := s.coordinator.Claim(ctx, req)
	if err != nil {
		return nil, err
	}
	s.notifications.TripTransitioned(res.Trip, domain.TripStatusRequested)
	return res.Trip, nil
}

func (s *TripService) transition(ctx context.Context, actor domain.Actor, tripID string, to domain.TripStatus, reason string) (*domain.Trip, error) {
	res, err := s.machine.Transition(ctx, TransitionRequest{
		TripID: tripID,
		Actor:  actor,
		To:     to,
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}

	s.notifications.TripTransitioned(res.Trip, res.From)
	if res.Settlement != nil {
		s.ledger.publishSettlement(res.Settlement)
	}
	return res.Trip, nil
}

func validateTripRequest(req RequestTripRequest) (*domain.Cargo, error) {
	if !req.Kind.Valid() {
		return nil, ErrInvalidTripKind
	}
	if !req.Pickup.Valid() {
		return nil, ErrInvalidPickupLocation
	}
	if !req.Dropoff.Valid() {
		return nil, ErrInvalidDropoffLocation
	}
	if !req.VehicleClass.Valid() {
		return nil, ErrInvalidVehicleClass
	}

	switch req.Kind {
	case domain.TripKindRide:
		if req.Cargo != nil {
			return nil, fmt.Errorf("%w: rides carry no cargo", ErrInvalidCargo)
		}
		return nil, nil
	default:
		if req.Cargo == nil || !req.Cargo.WeightKg.IsPositive() {
			return nil, fmt.Errorf("%w: deliveries need a positive weight", ErrInvalidCargo)
		}
		if strings.TrimSpace(req.Cargo.RecipientName) == "" || strings.TrimSpace(req.Cargo.RecipientPhone) == "" {
			return nil, fmt.Errorf("%w: deliveries need a recipient", ErrInvalidCargo)
		}
		return &domain.Cargo{
			WeightGrams:    req.Cargo.WeightKg.Shift(3).Ceil().IntPart(),
			Description:    strings.TrimSpace(req.Cargo.Description),
			RecipientName:  strings.TrimSpace(req.Cargo.RecipientName),
			RecipientPhone: strings.TrimSpace(req.Cargo.RecipientPhone),
		}, nil
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

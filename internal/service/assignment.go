package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/redis"
	"hailing/internal/repository"
)

// ClaimRequest asks for driverID to become the driver of tripID.
type ClaimRequest struct {
	TripID   string
	DriverID string
	Actor    domain.Actor
}

// ClaimResult is the outcome of a won claim.
type ClaimResult struct {
	Trip       *domain.Trip
	Assignment *domain.Assignment
}

// AssignmentCoordinator resolves concurrent attempts to bind a driver to an
// open trip. Exactly one claim per trip wins; the others get AlreadyAssigned.
type AssignmentCoordinator struct {
	store     repository.Store
	lockStore redis.LockStoreInterface
	lockTTL   time.Duration
	now       func() time.Time
}

// NewAssignmentCoordinator creates a new AssignmentCoordinator. lockStore may be
// nil; the database transaction alone keeps claims correct, the lock only
// sheds duplicate claims by one driver early.
func NewAssignmentCoordinator(store repository.Store, lockStore redis.LockStoreInterface, lockTTL time.Duration) *AssignmentCoordinator {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &AssignmentCoordinator{
		store:     store,
		lockStore: lockStore,
		lockTTL:   lockTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Claim checks driver eligibility, then atomically moves the trip from
// REQUESTED to ASSIGNED and records the assignment.
func (c *AssignmentCoordinator) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}
	if req.Actor.Role == domain.RoleDriver && req.Actor.UserID != req.DriverID {
		return nil, fmt.Errorf("%w: drivers can only claim for themselves", domain.ErrUnauthorized)
	}

	if c.lockStore != nil {
		token, acquired, err := c.lockStore.AcquireDriverLock(ctx, req.DriverID, c.lockTTL)
		switch {
		case err != nil:
			zap.L().Warn("driver claim lock unavailable", zap.String("driver_id", req.DriverID), zap.Error(err))
		case !acquired:
			return nil, fmt.Errorf("%w: claim already in progress", ErrDriverBusy)
		default:
			defer func() {
				if err := c.lockStore.ReleaseDriverLock(context.WithoutCancel(ctx), req.DriverID, token); err != nil {
					zap.L().Warn("release driver claim lock", zap.String("driver_id", req.DriverID), zap.Error(err))
				}
			}()
		}
	}

	var result *ClaimResult
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		// Lock order is trip then driver everywhere.
		trip, err := tx.Trips().GetForUpdate(ctx, req.TripID)
		if err != nil {
			return notFound(err, "trip", req.TripID)
		}
		driver, err := tx.Drivers().GetForUpdate(ctx, req.DriverID)
		if err != nil {
			return notFound(err, "driver", req.DriverID)
		}

		if err := c.checkEligible(ctx, tx, driver, trip); err != nil {
			return err
		}

		if trip.Status != domain.TripStatusRequested {
			if trip.Status == domain.TripStatusCancelled || trip.Status == domain.TripStatusCompleted {
				return fmt.Errorf("%w: trip %s is %s", domain.ErrInvalidTransition, trip.ID, trip.Status)
			}
			return fmt.Errorf("trip %s: %w", trip.ID, domain.ErrAlreadyAssigned)
		}
		if err := checkTransition(trip, domain.TripStatusAssigned, req.Actor); err != nil {
			return err
		}

		now := c.now()
		next := trip.Clone()
		next.Status = domain.TripStatusAssigned
		next.DriverID = driver.ID
		next.AssignedAt = now
		next.UpdatedAt = now

		swapped, err := tx.Trips().CompareAndSwap(ctx, next, domain.TripStatusRequested, trip.StatusVersion)
		if err != nil {
			return fmt.Errorf("update trip: %w", err)
		}
		if !swapped {
			return fmt.Errorf("trip %s: %w", trip.ID, domain.ErrAlreadyAssigned)
		}

		assignment := &domain.Assignment{
			ID:         uuid.New().String(),
			TripID:     trip.ID,
			DriverID:   driver.ID,
			AssignedAt: now,
		}
		if err := tx.Assignments().Create(ctx, assignment); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("trip %s: %w", trip.ID, domain.ErrAlreadyAssigned)
			}
			return fmt.Errorf("create assignment: %w", err)
		}

		if err := tx.Drivers().UpdateStatus(ctx, driver.ID, domain.DriverStatusOnTrip); err != nil {
			return fmt.Errorf("mark driver on trip: %w", err)
		}
		if err := appendTripEvent(ctx, tx, trip.ID, domain.TripStatusRequested, domain.TripStatusAssigned, req.Actor, now); err != nil {
			return err
		}

		result = &ClaimResult{Trip: next, Assignment: assignment}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("trip claimed",
		zap.String("trip_id", result.Trip.ID),
		zap.String("driver_id", result.Assignment.DriverID),
		zap.String("actor_role", string(req.Actor.Role)),
	)
	return result, nil
}

// checkEligible reports why a driver cannot take a trip, if it cannot.
func (c *AssignmentCoordinator) checkEligible(ctx context.Context, tx repository.Store, driver *domain.Driver, trip *domain.Trip) error {
	if !driver.Verified {
		return ErrDriverNotVerified
	}
	if !driver.VehicleClass.Serves(trip.Kind, trip.VehicleClass) {
		return fmt.Errorf("%w: %s cannot serve %s", ErrVehicleIncompatible, driver.VehicleClass, trip.VehicleClass)
	}
	busy, err := tx.Assignments().HasActiveForDriver(ctx, driver.ID)
	if err != nil {
		return fmt.Errorf("check driver assignments: %w", err)
	}
	if busy {
		return ErrDriverBusy
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/redis"
	"hailing/internal/repository"
)

// DriverService handles driver registration, verification and presence.
type DriverService struct {
	store         repository.Store
	locationStore redis.LocationStoreInterface
	now           func() time.Time
}

// NewDriverService creates a new DriverService. locationStore may be nil.
func NewDriverService(store repository.Store, locationStore redis.LocationStoreInterface) *DriverService {
	return &DriverService{
		store:         store,
		locationStore: locationStore,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	UserID       string
	Name         string
	Phone        string
	VehicleClass domain.VehicleClass
	PlateNumber  string
}

// Register creates an unverified, offline driver profile for an existing user.
func (s *DriverService) Register(ctx context.Context, actor domain.Actor, req RegisterDriverRequest) (*domain.Driver, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only administrators register drivers", domain.ErrUnauthorized)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrInvalidDriverID
	}
	if !req.VehicleClass.Valid() {
		return nil, ErrInvalidVehicleClass
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Phone) == "" {
		return nil, fmt.Errorf("%w: name and phone are required", domain.ErrValidation)
	}

	now := s.now()
	driver := &domain.Driver{
		ID:           req.UserID,
		Name:         strings.TrimSpace(req.Name),
		Phone:        strings.TrimSpace(req.Phone),
		VehicleClass: req.VehicleClass,
		PlateNumber:  strings.TrimSpace(req.PlateNumber),
		Status:       domain.DriverStatusOffline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Drivers().Create(ctx, driver); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: driver %s already registered", domain.ErrValidation, req.UserID)
		}
		return nil, err
	}
	return driver, nil
}

// Verify sets the verification flag of a driver.
func (s *DriverService) Verify(ctx context.Context, actor domain.Actor, driverID string, verified bool) (*domain.Driver, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only administrators verify drivers", domain.ErrUnauthorized)
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if err := s.store.Drivers().SetVerified(ctx, driverID, verified); err != nil {
		return nil, notFound(err, "driver", driverID)
	}
	zap.L().Info("driver verification changed", zap.String("driver_id", driverID), zap.Bool("verified", verified))
	return s.Get(ctx, driverID)
}

// Get returns a driver.
func (s *DriverService) Get(ctx context.Context, driverID string) (*domain.Driver, error) {
	driver, err := s.store.Drivers().GetByID(ctx, driverID)
	if err != nil {
		return nil, notFound(err, "driver", driverID)
	}
	return driver, nil
}

// UpdateLocationRequest contains a driver position report.
type UpdateLocationRequest struct {
	DriverID string
	Lat      float64
	Lng      float64
}

// UpdateLocation stores a driver's presence position. It only writes to the
// location store; the database is not touched on this hot path.
func (s *DriverService) UpdateLocation(ctx context.Context, req UpdateLocationRequest) error {
	if req.DriverID == "" {
		return ErrInvalidDriverID
	}
	if !(domain.Point{Lat: req.Lat, Lng: req.Lng}).Valid() {
		return ErrInvalidLocation
	}
	if s.locationStore == nil {
		return nil
	}
	return s.locationStore.UpdateLocation(ctx, req.DriverID, req.Lat, req.Lng)
}

// SetOnline marks a verified driver as available at a position.
func (s *DriverService) SetOnline(ctx context.Context, req UpdateLocationRequest) error {
	driver, err := s.Get(ctx, req.DriverID)
	if err != nil {
		return err
	}
	if !driver.Verified {
		return ErrDriverNotVerified
	}
	if err := s.UpdateLocation(ctx, req); err != nil {
		return err
	}
	// A driver on a trip stays ON_TRIP until the trip ends.
	_, err = s.store.Drivers().UpdateStatusIf(ctx, req.DriverID, domain.DriverStatusOnline,
		domain.DriverStatusOffline, domain.DriverStatusOnline)
	return notFound(err, "driver", req.DriverID)
}

// SetOffline marks a driver unavailable and drops the position.
func (s *DriverService) SetOffline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	updated, err := s.store.Drivers().UpdateStatusIf(ctx, driverID, domain.DriverStatusOffline,
		domain.DriverStatusOnline, domain.DriverStatusOffline)
	if err != nil {
		return notFound(err, "driver", driverID)
	}
	if !updated {
		return ErrDriverOnTrip
	}
	if s.locationStore != nil {
		if err := s.locationStore.RemoveLocation(ctx, driverID); err != nil {
			return err
		}
	}
	return nil
}

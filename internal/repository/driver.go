package repository

import (
	"context"

	"hailing/internal/domain"
)

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create persists a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetForUpdate retrieves a driver and locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id string) (*domain.Driver, error)

	// SetVerified marks a driver as verified or not.
	SetVerified(ctx context.Context, id string, verified bool) error

	// UpdateStatus updates a driver's presence status.
	UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error

	// UpdateStatusIf sets the status only while the current status is one of
	// from. It reports false when the driver was in some other status, and
	// returns ErrNotFound when the driver does not exist.
	UpdateStatusIf(ctx context.Context, id string, status domain.DriverStatus, from ...domain.DriverStatus) (bool, error)

	// ListByStatus returns drivers with the given presence status.
	ListByStatus(ctx context.Context, status domain.DriverStatus) ([]*domain.Driver, error)
}

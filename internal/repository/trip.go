package repository

import (
	"context"
	"time"

	"hailing/internal/domain"
)

// TripRepository defines the persistence operations for trips.
type TripRepository interface {
	// Create persists a new trip.
	// Returns ErrDuplicate if the requester already has a non-terminal trip.
	Create(ctx context.Context, trip *domain.Trip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.Trip, error)

	// GetForUpdate retrieves a trip and locks its row until the enclosing
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Trip, error)

	// CompareAndSwap writes every mutable column of trip only if the stored row
	// still has the expected status and status version. On success the stored
	// and in-memory version are bumped by one. Returns false when the row moved on.
	CompareAndSwap(ctx context.Context, trip *domain.Trip, expected domain.TripStatus, expectedVersion int64) (bool, error)

	// UpdateLocation stores the current location without touching status. The
	// write only lands while driverID is assigned and the trip is en route;
	// otherwise it returns ErrConflict.
	UpdateLocation(ctx context.Context, id, driverID string, loc domain.Point, at time.Time) error

	// HasActiveByRequester reports whether the requester has a non-terminal trip.
	HasActiveByRequester(ctx context.Context, requesterID string) (bool, error)

	// ListByStatus returns trips in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.TripStatus, limit int) ([]*domain.Trip, error)

	// ListByParticipant returns trips where the user is requester or driver, newest first.
	ListByParticipant(ctx context.Context, userID string, limit int) ([]*domain.Trip, error)

	// ListRequestedBefore returns REQUESTED trips created before cutoff.
	ListRequestedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Trip, error)

	// AppendEvent appends an audit record of a transition.
	AppendEvent(ctx context.Context, event *domain.TripEvent) error

	// ListEvents returns the audit trail of a trip in order.
	ListEvents(ctx context.Context, tripID string) ([]*domain.TripEvent, error)

	// Stats aggregates counts and revenue over all trips.
	Stats(ctx context.Context) (*domain.TripStats, error)
}

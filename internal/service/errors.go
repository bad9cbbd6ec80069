package service

import (
	"errors"
	"fmt"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

var (
	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = fmt.Errorf("%w: invalid trip id", domain.ErrValidation)

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = fmt.Errorf("%w: invalid driver id", domain.ErrValidation)

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = fmt.Errorf("%w: invalid pickup location", domain.ErrValidation)

	// ErrInvalidDropoffLocation is returned when drop-off coordinates are invalid.
	ErrInvalidDropoffLocation = fmt.Errorf("%w: invalid drop-off location", domain.ErrValidation)

	// ErrInvalidLocation is returned when a location update has invalid coordinates.
	ErrInvalidLocation = fmt.Errorf("%w: invalid location", domain.ErrValidation)

	// ErrInvalidTripKind is returned for an unknown trip kind.
	ErrInvalidTripKind = fmt.Errorf("%w: invalid trip kind", domain.ErrValidation)

	// ErrInvalidVehicleClass is returned for an unknown vehicle class.
	ErrInvalidVehicleClass = fmt.Errorf("%w: invalid vehicle class", domain.ErrValidation)

	// ErrInvalidCargo is returned when a delivery has no cargo or a ride carries one.
	ErrInvalidCargo = fmt.Errorf("%w: invalid cargo", domain.ErrValidation)

	// ErrInvalidAmount is returned for a non-positive wallet amount.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", domain.ErrValidation)

	// ErrTopUpTooLarge is returned for a top-up above MaxTopUpAmount.
	ErrTopUpTooLarge = fmt.Errorf("%w: top-up exceeds the single top-up limit", domain.ErrValidation)

	// ErrBalanceOverflow is returned when a credit would overflow the balance.
	ErrBalanceOverflow = fmt.Errorf("%w: wallet balance limit reached", domain.ErrValidation)

	// ErrInvalidReference is returned when a ledger operation has no reference.
	ErrInvalidReference = fmt.Errorf("%w: reference is required", domain.ErrValidation)

	// ErrTripNotOpenForLocation is returned when a location arrives for a trip
	// that has no driver on the way.
	ErrTripNotOpenForLocation = fmt.Errorf("%w: trip is not accepting location updates", domain.ErrInvalidTransition)

	// ErrReceiptUnavailable is returned when a receipt is asked for an unfinished trip.
	ErrReceiptUnavailable = fmt.Errorf("%w: receipt is only available for completed trips", domain.ErrInvalidTransition)

	// ErrDriverBusy is returned when a driver already holds an open trip.
	ErrDriverBusy = fmt.Errorf("%w: driver already has an active trip", domain.ErrDriverIneligible)

	// ErrDriverOnTrip is returned when a driver tries to go offline mid-trip.
	ErrDriverOnTrip = fmt.Errorf("%w: driver cannot go offline during a trip", domain.ErrInvalidTransition)

	// ErrDriverNotVerified is returned when an unverified driver tries to work.
	ErrDriverNotVerified = fmt.Errorf("%w: driver is not verified", domain.ErrDriverIneligible)

	// ErrVehicleIncompatible is returned when the driver's vehicle cannot serve the trip.
	ErrVehicleIncompatible = fmt.Errorf("%w: vehicle class not compatible", domain.ErrDriverIneligible)
)

// notFound converts a repository miss into the domain NotFound outcome.
func notFound(err error, entity, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
	}
	return err
}

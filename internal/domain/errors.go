package domain

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "not_found"
	CodeInvalidTransition   ErrorCode = "invalid_transition"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeUnauthenticated     ErrorCode = "unauthenticated"
	CodeAlreadyAssigned     ErrorCode = "already_assigned"
	CodeDriverIneligible    ErrorCode = "driver_ineligible"
	CodeInsufficientBalance ErrorCode = "insufficient_balance"
	CodeActiveTripExists    ErrorCode = "active_trip_exists"
	CodeValidation          ErrorCode = "validation_failed"
)

// Error is an expected business outcome surfaced to callers unchanged.
// Wrap it with fmt.Errorf("...: %w", ErrX) to add detail; errors.Is keeps working.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrNotFound is returned when a trip, driver or wallet does not exist.
	ErrNotFound = &Error{Code: CodeNotFound, Message: "not found"}

	// ErrInvalidTransition is returned when the trip is not in a state that
	// precedes the requested one.
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}

	// ErrUnauthorized is returned when the actor may not perform the operation.
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Message: "not permitted"}

	// ErrUnauthenticated is returned when no valid credential was presented.
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "unauthenticated"}

	// ErrAlreadyAssigned is returned to every claimant that lost the race.
	ErrAlreadyAssigned = &Error{Code: CodeAlreadyAssigned, Message: "trip already assigned"}

	// ErrDriverIneligible is returned when the driver cannot legally take the trip.
	ErrDriverIneligible = &Error{Code: CodeDriverIneligible, Message: "driver ineligible"}

	// ErrInsufficientBalance is returned when a debit would take a wallet negative.
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance, Message: "insufficient wallet balance"}

	// ErrActiveTripExists is returned when the requester already has an open trip.
	ErrActiveTripExists = &Error{Code: CodeActiveTripExists, Message: "requester already has an active trip"}

	// ErrValidation is returned for malformed input.
	ErrValidation = &Error{Code: CodeValidation, Message: "validation failed"}
)

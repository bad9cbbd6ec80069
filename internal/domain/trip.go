package domain

import "time"

// TripKind distinguishes a passenger ride from a parcel delivery.
type TripKind string

const (
	TripKindRide     TripKind = "RIDE"
	TripKindDelivery TripKind = "DELIVERY"
)

// Valid reports whether k is a known trip kind.
func (k TripKind) Valid() bool {
	return k == TripKindRide || k == TripKindDelivery
}

// TripStatus represents the current status of a trip.
type TripStatus string

const (
	TripStatusRequested     TripStatus = "REQUESTED"
	TripStatusAssigned      TripStatus = "ASSIGNED"
	TripStatusDriverArrived TripStatus = "DRIVER_ARRIVED"
	TripStatusInProgress    TripStatus = "IN_PROGRESS"
	TripStatusCompleted     TripStatus = "COMPLETED"
	TripStatusCancelled     TripStatus = "CANCELLED"
)

// AllTripStatuses lists every status in lifecycle order.
var AllTripStatuses = []TripStatus{
	TripStatusRequested,
	TripStatusAssigned,
	TripStatusDriverArrived,
	TripStatusInProgress,
	TripStatusCompleted,
	TripStatusCancelled,
}

// Terminal reports whether no further transition can leave s.
func (s TripStatus) Terminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

// Active reports whether a driver is bound to the trip and it is still open.
func (s TripStatus) Active() bool {
	return s == TripStatusAssigned || s == TripStatusDriverArrived || s == TripStatusInProgress
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Cargo describes the parcel carried by a delivery trip.
type Cargo struct {
	WeightGrams    int64
	Description    string
	RecipientName  string
	RecipientPhone string
}

// Trip is a ride or a delivery from request through completion or cancellation.
// Money fields are integer minor currency units.
type Trip struct {
	ID              string
	Kind            TripKind
	RequesterID     string
	DriverID        string
	Status          TripStatus
	StatusVersion   int64
	VehicleClass    VehicleClass
	Pickup          Point
	Dropoff         Point
	CurrentLocation *Point
	Cargo           *Cargo
	DistanceMeters  int64
	DurationMinutes int64
	SurgeBps        int64
	EstimatedFare   int64
	FinalFare       *int64
	Commission      *int64
	CancelReason    string
	CancelledBy     Role
	CreatedAt       time.Time
	AssignedAt      time.Time
	ArrivedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	CancelledAt     time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the trip.
func (t *Trip) Clone() *Trip {
	c := *t
	if t.CurrentLocation != nil {
		loc := *t.CurrentLocation
		c.CurrentLocation = &loc
	}
	if t.Cargo != nil {
		cargo := *t.Cargo
		c.Cargo = &cargo
	}
	if t.FinalFare != nil {
		v := *t.FinalFare
		c.FinalFare = &v
	}
	if t.Commission != nil {
		v := *t.Commission
		c.Commission = &v
	}
	return &c
}

// TripEvent is an audit record of one accepted transition.
type TripEvent struct {
	ID         string
	TripID     string
	FromStatus TripStatus
	ToStatus   TripStatus
	ActorID    string
	ActorRole  Role
	CreatedAt  time.Time
}

// TripStats aggregates trips for the statistics endpoint.
type TripStats struct {
	Total            int64
	ByStatus         map[TripStatus]int64
	GrossRevenue     int64
	CommissionEarned int64
	Refunded         int64
}

// Receipt summarises a completed trip.
type Receipt struct {
	TripID         string
	Kind           TripKind
	RequesterID    string
	DriverID       string
	VehicleClass   VehicleClass
	Pickup         Point
	Dropoff        Point
	DistanceMeters int64
	Duration       time.Duration
	SurgeBps       int64
	Fare           int64
	Commission     int64
	DriverEarnings int64
	Currency       string
	StartedAt      time.Time
	CompletedAt    time.Time
	IssuedAt       time.Time
}

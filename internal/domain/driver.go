package domain

import "time"

// DriverStatus represents the current presence of a driver.
type DriverStatus string

const (
	DriverStatusOnline  DriverStatus = "ONLINE"
	DriverStatusOffline DriverStatus = "OFFLINE"
	DriverStatusOnTrip  DriverStatus = "ON_TRIP"
)

// VehicleClass is the class of vehicle a trip asks for or a driver holds.
type VehicleClass string

const (
	VehicleClassMotorbike VehicleClass = "MOTORBIKE"
	VehicleClassCar       VehicleClass = "CAR"
	VehicleClassVan       VehicleClass = "VAN"
)

var vehicleRank = map[VehicleClass]int{
	VehicleClassMotorbike: 1,
	VehicleClassCar:       2,
	VehicleClassVan:       3,
}

// Valid reports whether c is a known vehicle class.
func (c VehicleClass) Valid() bool {
	_, ok := vehicleRank[c]
	return ok
}

// Serves reports whether a vehicle of class c may take a trip of the given
// kind that requested class want. Rides need the exact class; a delivery
// can be carried by the requested class or any larger one.
func (c VehicleClass) Serves(kind TripKind, want VehicleClass) bool {
	if !c.Valid() || !want.Valid() {
		return false
	}
	if kind == TripKindDelivery {
		return vehicleRank[c] >= vehicleRank[want]
	}
	return c == want
}

// Driver represents a driver in the system. ID equals the driver's user id.
type Driver struct {
	ID           string
	Name         string
	Phone        string
	VehicleClass VehicleClass
	PlateNumber  string
	Verified     bool
	Status       DriverStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Assignment binds one driver to one trip. It is live while SupersededAt is zero.
type Assignment struct {
	ID           string
	TripID       string
	DriverID     string
	AssignedAt   time.Time
	SupersededAt time.Time
}

// Live reports whether the assignment has not been superseded.
func (a *Assignment) Live() bool {
	return a.SupersededAt.IsZero()
}

package handler

import (
	"time"

	"hailing/internal/domain"
)

// PointDTO is a coordinate in requests and responses.
type PointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p PointDTO) toDomain() domain.Point {
	return domain.Point{Lat: p.Lat, Lng: p.Lng}
}

func fromPoint(p domain.Point) PointDTO {
	return PointDTO{Lat: p.Lat, Lng: p.Lng}
}

// CargoResponse describes the parcel of a delivery.
type CargoResponse struct {
	WeightGrams    int64  `json:"weight_grams"`
	Description    string `json:"description,omitempty"`
	RecipientName  string `json:"recipient_name"`
	RecipientPhone string `json:"recipient_phone"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	Status          string         `json:"status"`
	StatusVersion   int64          `json:"status_version"`
	RequesterID     string         `json:"requester_id"`
	DriverID        string         `json:"driver_id,omitempty"`
	VehicleClass    string         `json:"vehicle_class"`
	Pickup          PointDTO       `json:"pickup"`
	Dropoff         PointDTO       `json:"dropoff"`
	CurrentLocation *PointDTO      `json:"current_location,omitempty"`
	Cargo           *CargoResponse `json:"cargo,omitempty"`
	DistanceMeters  int64          `json:"distance_meters"`
	DurationMinutes int64          `json:"duration_minutes"`
	SurgeBps        int64          `json:"surge_bps"`
	EstimatedFare   int64          `json:"estimated_fare"`
	FinalFare       *int64         `json:"final_fare,omitempty"`
	Commission      *int64         `json:"commission,omitempty"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
	CancelledBy     string         `json:"cancelled_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	AssignedAt      *time.Time     `json:"assigned_at,omitempty"`
	ArrivedAt       *time.Time     `json:"arrived_at,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func toTripResponse(t *domain.Trip) TripResponse {
	resp := TripResponse{
		ID:              t.ID,
		Kind:            string(t.Kind),
		Status:          string(t.Status),
		StatusVersion:   t.StatusVersion,
		RequesterID:     t.RequesterID,
		DriverID:        t.DriverID,
		VehicleClass:    string(t.VehicleClass),
		Pickup:          fromPoint(t.Pickup),
		Dropoff:         fromPoint(t.Dropoff),
		DistanceMeters:  t.DistanceMeters,
		DurationMinutes: t.DurationMinutes,
		SurgeBps:        t.SurgeBps,
		EstimatedFare:   t.EstimatedFare,
		FinalFare:       t.FinalFare,
		Commission:      t.Commission,
		CancelReason:    t.CancelReason,
		CancelledBy:     string(t.CancelledBy),
		CreatedAt:       t.CreatedAt,
		AssignedAt:      optionalTime(t.AssignedAt),
		ArrivedAt:       optionalTime(t.ArrivedAt),
		StartedAt:       optionalTime(t.StartedAt),
		CompletedAt:     optionalTime(t.CompletedAt),
		CancelledAt:     optionalTime(t.CancelledAt),
		UpdatedAt:       t.UpdatedAt,
	}
	if t.CurrentLocation != nil {
		loc := fromPoint(*t.CurrentLocation)
		resp.CurrentLocation = &loc
	}
	if t.Cargo != nil {
		resp.Cargo = &CargoResponse{
			WeightGrams:    t.Cargo.WeightGrams,
			Description:    t.Cargo.Description,
			RecipientName:  t.Cargo.RecipientName,
			RecipientPhone: t.Cargo.RecipientPhone,
		}
	}
	return resp
}

func toTripResponses(trips []*domain.Trip) []TripResponse {
	out := make([]TripResponse, 0, len(trips))
	for _, t := range trips {
		out = append(out, toTripResponse(t))
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// TripEventResponse is one entry of a trip's audit trail.
type TripEventResponse struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	CreatedAt time.Time `json:"created_at"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	VehicleClass string    `json:"vehicle_class"`
	PlateNumber  string    `json:"plate_number,omitempty"`
	Verified     bool      `json:"verified"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:           d.ID,
		Name:         d.Name,
		Phone:        d.Phone,
		VehicleClass: string(d.VehicleClass),
		PlateNumber:  d.PlateNumber,
		Verified:     d.Verified,
		Status:       string(d.Status),
		CreatedAt:    d.CreatedAt,
	}
}

// WalletResponse is the HTTP response for a wallet balance.
type WalletResponse struct {
	OwnerID  string `json:"owner_id"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// TransactionResponse is one ledger entry.
type TransactionResponse struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	Kind         string    `json:"kind"`
	Reference    string    `json:"reference"`
	Status       string    `json:"status"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

func toTransactionResponse(t *domain.WalletTransaction) TransactionResponse {
	return TransactionResponse{
		ID:           t.ID,
		Amount:       t.Amount,
		Kind:         string(t.Kind),
		Reference:    t.Reference,
		Status:       string(t.Status),
		BalanceAfter: t.BalanceAfter,
		CreatedAt:    t.CreatedAt,
	}
}

// ReceiptResponse is the JSON form of a trip receipt.
type ReceiptResponse struct {
	TripID          string    `json:"trip_id"`
	Kind            string    `json:"kind"`
	VehicleClass    string    `json:"vehicle_class"`
	DistanceMeters  int64     `json:"distance_meters"`
	DurationSeconds int64     `json:"duration_seconds"`
	SurgeBps        int64     `json:"surge_bps"`
	Fare            int64     `json:"fare"`
	Commission      int64     `json:"commission"`
	DriverEarnings  int64     `json:"driver_earnings"`
	Currency        string    `json:"currency"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	IssuedAt        time.Time `json:"issued_at"`
}

func toReceiptResponse(r *domain.Receipt) ReceiptResponse {
	return ReceiptResponse{
		TripID:          r.TripID,
		Kind:            string(r.Kind),
		VehicleClass:    string(r.VehicleClass),
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: int64(r.Duration.Seconds()),
		SurgeBps:        r.SurgeBps,
		Fare:            r.Fare,
		Commission:      r.Commission,
		DriverEarnings:  r.DriverEarnings,
		Currency:        r.Currency,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		IssuedAt:        r.IssuedAt,
	}
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"

	"hailing/internal/domain"
	"hailing/internal/repository"
)

// ReceiptService builds receipts for completed trips.
type ReceiptService struct {
	store    repository.Store
	fares    *FareCalculator
	currency string
	now      func() time.Time
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(store repository.Store, fares *FareCalculator, currency string) *ReceiptService {
	return &ReceiptService{
		store:    store,
		fares:    fares,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the receipt of a completed trip to its requester, driver or an admin.
func (s *ReceiptService) Get(ctx context.Context, actor domain.Actor, tripID string) (*domain.Receipt, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	trip, err := s.store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return nil, notFound(err, "trip", tripID)
	}
	if !canView(actor, trip) {
		return nil, fmt.Errorf("%w: trip %s", domain.ErrUnauthorized, tripID)
	}
	if trip.Status != domain.TripStatusCompleted || trip.FinalFare == nil {
		return nil, ErrReceiptUnavailable
	}
	return s.Build(trip), nil
}

// Build derives a receipt from a completed trip.
func (s *ReceiptService) Build(trip *domain.Trip) *domain.Receipt {
	fare := *trip.FinalFare
	commission, earnings := s.fares.SettlementSplit(fare)
	if trip.Commission != nil {
		commission, earnings = *trip.Commission, fare-*trip.Commission
	}

	return &domain.Receipt{
		TripID:         trip.ID,
		Kind:           trip.Kind,
		RequesterID:    trip.RequesterID,
		DriverID:       trip.DriverID,
		VehicleClass:   trip.VehicleClass,
		Pickup:         trip.Pickup,
		Dropoff:        trip.Dropoff,
		DistanceMeters: trip.DistanceMeters,
		Duration:       trip.CompletedAt.Sub(trip.StartedAt),
		SurgeBps:       trip.SurgeBps,
		Fare:           fare,
		Commission:     commission,
		DriverEarnings: earnings,
		Currency:       s.currency,
		StartedAt:      trip.StartedAt,
		CompletedAt:    trip.CompletedAt,
		IssuedAt:       s.now(),
	}
}

// RenderPDF renders a receipt as a one-page PDF.
func (s *ReceiptService) RenderPDF(r *domain.Receipt) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Trip receipt "+r.TripID, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "TRIP RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	lines := []string{
		"Trip ID      : " + r.TripID,
		"Type         : " + string(r.Kind),
		"Vehicle      : " + string(r.VehicleClass),
		"Issued       : " + r.IssuedAt.Format("Jan 02, 2006 3:04 PM"),
		fmt.Sprintf("Pickup       : (%.5f, %.5f)", r.Pickup.Lat, r.Pickup.Lng),
		fmt.Sprintf("Drop-off     : (%.5f, %.5f)", r.Dropoff.Lat, r.Dropoff.Lng),
		fmt.Sprintf("Distance     : %s km", MetersToKm(r.DistanceMeters).StringFixed(2)),
		fmt.Sprintf("Duration     : %s", r.Duration.Round(time.Minute)),
	}
	for _, l := range lines {
		pdf.Cell(0, 7, l)
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Fare")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	if r.SurgeBps > NoSurgeBps {
		pdf.Cell(0, 7, fmt.Sprintf("Surge        : x%s", decimal.New(r.SurgeBps, -4).StringFixed(2)))
		pdf.Ln(7)
	}
	pdf.Cell(0, 7, "Total        : "+formatMinor(r.Fare, r.Currency))
	pdf.Ln(7)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// formatMinor prints an amount in minor units with thousands separators.
func formatMinor(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var out []byte
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	return sign + currency + " " + string(out)
}

// canView reports whether the actor may read a trip.
func canView(actor domain.Actor, trip *domain.Trip) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RoleDriver:
		return trip.DriverID == actor.UserID
	default:
		return trip.RequesterID == actor.UserID
	}
}

package service

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"hailing/internal/domain"
)

const (
	bpsDenominator    = 10000
	earthRadiusMeters = 6371000.0
)

// NoSurgeBps is the neutral surge multiplier.
const NoSurgeBps = 10000

// VehicleRate is the tariff of one vehicle class, in minor currency units.
type VehicleRate struct {
	Base      int64 `yaml:"base"`
	PerKm     int64 `yaml:"per_km"`
	PerMinute int64 `yaml:"per_minute"`
	Minimum   int64 `yaml:"minimum"`
}

// WeightSurcharge is charged per started kilogram above ThresholdKg on deliveries.
type WeightSurcharge struct {
	ThresholdKg int64 `yaml:"threshold_kg"`
	PerKg       int64 `yaml:"per_kg"`
}

// RateTable is the full tariff.
type RateTable struct {
	Vehicles map[domain.VehicleClass]VehicleRate `yaml:"vehicles"`
	Delivery WeightSurcharge                     `yaml:"delivery"`
}

// DefaultRateTable returns the tariff used when no rates file is configured.
func DefaultRateTable() RateTable {
	return RateTable{
		Vehicles: map[domain.VehicleClass]VehicleRate{
			domain.VehicleClassMotorbike: {Base: 5000, PerKm: 2000, PerMinute: 200, Minimum: 8000},
			domain.VehicleClassCar:       {Base: 8000, PerKm: 3500, PerMinute: 350, Minimum: 15000},
			domain.VehicleClassVan:       {Base: 15000, PerKm: 5000, PerMinute: 500, Minimum: 25000},
		},
		Delivery: WeightSurcharge{ThresholdKg: 5, PerKg: 1500},
	}
}

// LoadRateTable reads a YAML tariff file.
func LoadRateTable(path string) (RateTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RateTable{}, fmt.Errorf("read rates file: %w", err)
	}

	var table RateTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return RateTable{}, fmt.Errorf("parse rates file: %w", err)
	}

	if err := table.Validate(); err != nil {
		return RateTable{}, err
	}
	return table, nil
}

// Validate checks that every class is known, no rate is negative, and every
// class has a positive minimum fare and a rate that grows with the trip.
func (t RateTable) Validate() error {
	if len(t.Vehicles) == 0 {
		return errors.New("rate table has no vehicle classes")
	}
	for class, r := range t.Vehicles {
		if !class.Valid() {
			return fmt.Errorf("rate table: unknown vehicle class %q", class)
		}
		if r.Base < 0 || r.PerKm < 0 || r.PerMinute < 0 || r.Minimum < 0 {
			return fmt.Errorf("rate table: negative rate for %s", class)
		}
		// A zero fare can never be settled.
		if r.Minimum == 0 {
			return fmt.Errorf("rate table: %s has no minimum fare", class)
		}
		if r.PerKm == 0 && r.PerMinute == 0 {
			return fmt.Errorf("rate table: %s charges nothing for distance or time", class)
		}
	}
	if t.Delivery.ThresholdKg < 0 || t.Delivery.PerKg < 0 {
		return errors.New("rate table: negative delivery surcharge")
	}
	return nil
}

// EstimateInput describes a trip to price.
type EstimateInput struct {
	Kind        domain.TripKind
	DistanceKm  decimal.Decimal
	DurationMin int64
	Class       domain.VehicleClass
	// WeightKg is only read for deliveries.
	WeightKg decimal.Decimal
}

// FareCalculator prices trips and splits settled fares. It holds no mutable state.
type FareCalculator struct {
	rates         RateTable
	commissionBps int64
}

// NewFareCalculator creates a calculator. commissionBps is the platform share
// in basis points (1500 = 15%).
func NewFareCalculator(rates RateTable, commissionBps int64) (*FareCalculator, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	if commissionBps < 0 || commissionBps >= bpsDenominator {
		return nil, fmt.Errorf("commission must be within [0, %d) bps, got %d", bpsDenominator, commissionBps)
	}
	return &FareCalculator{rates: rates, commissionBps: commissionBps}, nil
}

// Estimate returns the fare in minor units: base + per-km + per-minute, plus
// the weight surcharge for deliveries, never below the class minimum.
// The distance charge is rounded half away from zero to a whole minor unit.
func (c *FareCalculator) Estimate(in EstimateInput) (int64, error) {
	rate, ok := c.rates.Vehicles[in.Class]
	if !ok {
		return 0, ErrInvalidVehicleClass
	}
	if !in.Kind.Valid() {
		return 0, ErrInvalidTripKind
	}
	if in.DistanceKm.IsNegative() || in.DurationMin < 0 || in.WeightKg.IsNegative() {
		return 0, fmt.Errorf("%w: negative trip measurements", domain.ErrValidation)
	}

	amount := decimal.NewFromInt(rate.Base).
		Add(decimal.NewFromInt(rate.PerKm).Mul(in.DistanceKm)).
		Add(decimal.NewFromInt(rate.PerMinute).Mul(decimal.NewFromInt(in.DurationMin)))

	if in.Kind == domain.TripKindDelivery {
		threshold := decimal.NewFromInt(c.rates.Delivery.ThresholdKg)
		if in.WeightKg.GreaterThan(threshold) {
			excess := in.WeightKg.Sub(threshold).Ceil()
			amount = amount.Add(excess.Mul(decimal.NewFromInt(c.rates.Delivery.PerKg)))
		}
	}

	total := amount.Round(0).IntPart()
	if total < rate.Minimum {
		total = rate.Minimum
	}
	return total, nil
}

// ApplySurge scales amount by a multiplier in basis points, rounding half away from zero.
func (c *FareCalculator) ApplySurge(amount, surgeBps int64) int64 {
	if surgeBps <= NoSurgeBps {
		return amount
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(surgeBps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Round(0).
		IntPart()
}

// SettlementSplit divides a gross fare into the platform commission and the
// driver's earnings. commission = floor(gross * rate); the two parts always
// sum to gross.
func (c *FareCalculator) SettlementSplit(gross int64) (commission, driverEarnings int64) {
	if gross <= 0 {
		return 0, gross
	}
	commission = decimal.NewFromInt(gross).
		Mul(decimal.NewFromInt(c.commissionBps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Floor().
		IntPart()
	return commission, gross - commission
}

// CommissionBps returns the configured platform share.
func (c *FareCalculator) CommissionBps() int64 {
	return c.commissionBps
}

// RouteEstimate returns the great-circle distance in meters between two points
// and the expected duration in whole minutes at averageSpeedKmh.
func RouteEstimate(from, to domain.Point, averageSpeedKmh int64) (distanceMeters, durationMinutes int64) {
	lat1 := from.Lat * math.Pi / 180
	lat2 := to.Lat * math.Pi / 180
	dLat := (to.Lat - from.Lat) * math.Pi / 180
	dLng := (to.Lng - from.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	distanceMeters = int64(math.Round(2 * earthRadiusMeters * math.Asin(math.Sqrt(h))))

	if averageSpeedKmh <= 0 || distanceMeters == 0 {
		return distanceMeters, 0
	}
	metersPerHour := averageSpeedKmh * 1000
	durationMinutes = (distanceMeters*60 + metersPerHour - 1) / metersPerHour
	return distanceMeters, durationMinutes
}

// MetersToKm converts an integer distance to an exact decimal kilometre value.
func MetersToKm(meters int64) decimal.Decimal {
	return decimal.New(meters, -3)
}

// GramsToKg converts an integer weight to an exact decimal kilogram value.
func GramsToKg(grams int64) decimal.Decimal {
	return decimal.New(grams, -3)
}

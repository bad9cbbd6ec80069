package service

import (
	"context"

	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/redis"
	"hailing/internal/repository"
)

// SurgeConfig contains surge pricing configuration. Ratios are demand/supply
// expressed in tenths; multipliers are basis points.
type SurgeConfig struct {
	RadiusKm        float64
	LowRatioTenths  int64
	MedRatioTenths  int64
	HighRatioTenths int64
	LowBps          int64
	MedBps          int64
	MaxBps          int64
	DemandScan      int
}

// DefaultSurgeConfig returns the default surge configuration.
func DefaultSurgeConfig() SurgeConfig {
	return SurgeConfig{
		RadiusKm:        3.0,
		LowRatioTenths:  12,
		MedRatioTenths:  15,
		HighRatioTenths: 20,
		LowBps:          12500,
		MedBps:          15000,
		MaxBps:          20000,
		DemandScan:      500,
	}
}

// SurgeService calculates surge pricing from nearby supply and open demand.
type SurgeService struct {
	locationStore redis.LocationStoreInterface
	store         repository.Store
	config        SurgeConfig
}

// NewSurgeService creates a new SurgeService.
func NewSurgeService(locationStore redis.LocationStoreInterface, store repository.Store, config SurgeConfig) *SurgeService {
	return &SurgeService{locationStore: locationStore, store: store, config: config}
}

// MultiplierBps returns the surge multiplier for a pickup point. Lookup
// failures fall back to no surge.
func (s *SurgeService) MultiplierBps(ctx context.Context, at domain.Point) int64 {
	drivers, err := s.locationStore.FindNearbyDrivers(ctx, at.Lat, at.Lng, s.config.RadiusKm)
	if err != nil {
		zap.L().Warn("surge supply lookup failed", zap.Error(err))
		return NoSurgeBps
	}

	open, err := s.store.Trips().ListByStatus(ctx, domain.TripStatusRequested, s.config.DemandScan)
	if err != nil {
		zap.L().Warn("surge demand lookup failed", zap.Error(err))
		return NoSurgeBps
	}

	radiusMeters := int64(s.config.RadiusKm * 1000)
	var demand int64
	for _, t := range open {
		if d, _ := RouteEstimate(at, t.Pickup, 0); d <= radiusMeters {
			demand++
		}
	}

	return s.multiplier(int64(len(drivers)), demand)
}

func (s *SurgeService) multiplier(supply, demand int64) int64 {
	if supply == 0 {
		if demand > 0 {
			return s.config.MaxBps
		}
		return NoSurgeBps
	}

	// demand/supply >= ratio/10  <=>  demand*10 >= ratio*supply
	scaled := demand * 10
	switch {
	case scaled >= s.config.HighRatioTenths*supply:
		return s.config.MaxBps
	case scaled >= s.config.MedRatioTenths*supply:
		return s.config.MedBps
	case scaled >= s.config.LowRatioTenths*supply:
		return s.config.LowBps
	default:
		return NoSurgeBps
	}
}

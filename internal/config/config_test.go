package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "STORE_BACKEND", "FARE_COMMISSION_BPS", "TRIP_REQUEST_TTL", "CORS_ALLOWED_ORIGINS", "REDIS_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Database.Backend != "postgres" {
		t.Errorf("backend = %q", cfg.Database.Backend)
	}
	if cfg.Fare.CommissionBps != 1500 {
		t.Errorf("commission = %d", cfg.Fare.CommissionBps)
	}
	if cfg.Expiry.TTL != 15*time.Minute {
		t.Errorf("expiry ttl = %s", cfg.Expiry.TTL)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis should be enabled by default")
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, []string{"*"}) {
		t.Errorf("origins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("FARE_COMMISSION_BPS", "2000")
	t.Setenv("SURGE_RADIUS_KM", "4.5")
	t.Setenv("DISPATCH_LOCATION_INTERVAL", "500ms")
	t.Setenv("TRIP_REQUEST_TTL", "0s")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("DISPATCH_WORKERS", "not-a-number")

	cfg := Load()
	if cfg.Server.Port != "9090" || cfg.Database.Backend != "memory" || cfg.Redis.Enabled {
		t.Errorf("unexpected server/store/redis: %+v %+v %+v", cfg.Server, cfg.Database, cfg.Redis)
	}
	if cfg.Fare.CommissionBps != 2000 || cfg.Fare.SurgeRadiusKm != 4.5 {
		t.Errorf("unexpected fare config: %+v", cfg.Fare)
	}
	if cfg.Dispatch.LocationInterval != 500*time.Millisecond {
		t.Errorf("location interval = %s", cfg.Dispatch.LocationInterval)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Errorf("malformed values fall back to the default, got %d", cfg.Dispatch.Workers)
	}
	if cfg.Expiry.TTL != 0 {
		t.Errorf("expiry ttl = %s", cfg.Expiry.TTL)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("origins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
}

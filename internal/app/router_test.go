package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hailing/internal/auth"
	"hailing/internal/domain"
	"hailing/internal/handler"
	"hailing/internal/realtime"
	"hailing/internal/repository/memory"
	"hailing/internal/service"
)

func newTestRouter(t *testing.T) (*gin.Engine, *auth.JWTAuthenticator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authenticator, err := auth.NewJWTAuthenticator("test-secret", "hailing", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}
	fares, err := service.NewFareCalculator(service.DefaultRateTable(), 1500)
	if err != nil {
		t.Fatalf("NewFareCalculator: %v", err)
	}

	store := memory.NewStore()
	hub := realtime.NewHub()
	dispatcher := service.NewDispatcher(service.DispatcherConfig{QueueSize: 16, Workers: 1}, service.NewLocalThrottle(), hub)
	dispatcher.Start()
	t.Cleanup(func() {
		dispatcher.Close()
		hub.Close()
	})

	notifications := service.NewNotificationService(dispatcher)
	ledger := service.NewLedger(store, fares, notifications)
	trips := service.NewTripService(service.TripServiceDeps{
		Store:           store,
		StateMachine:    service.NewTripStateMachine(store, ledger),
		Coordinator:     service.NewAssignmentCoordinator(store, nil, time.Second),
		Ledger:          ledger,
		Fares:           fares,
		Notifications:   notifications,
		AverageSpeedKmh: 30,
	})

	router := NewRouter(RouterDeps{
		TripHandler:    handler.NewTripHandler(trips, service.NewReceiptService(store, fares, "IDR")),
		DriverHandler:  handler.NewDriverHandler(service.NewDriverService(store, nil), trips),
		WalletHandler:  handler.NewWalletHandler(ledger, "IDR"),
		AdminHandler:   handler.NewAdminHandler(ledger, trips),
		WSHandler:      handler.NewWSHandler(hub, trips, []string{"*"}),
		Authenticator:  authenticator,
		Logger:         zap.NewNop(),
		AllowedOrigins: []string{"*"},
	})
	return router, authenticator
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestRouter_RequiresToken(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, header := range []string{"", "Bearer garbage", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/trips", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestRouter_RequestTrip(t *testing.T) {
	router, authenticator := newTestRouter(t)

	token, err := authenticator.Issue(domain.Actor{UserID: "rider-1", Role: domain.RoleRider})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/trips", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := post(`{"kind":"RIDE","vehicle_class":"CAR","pickup":{"lat":-6.2,"lng":106.8166},"dropoff":{"lat":-6.1751,"lng":106.865}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var trip handler.TripResponse
	if err := json.Unmarshal(w.Body.Bytes(), &trip); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trip.Status != string(domain.TripStatusRequested) || trip.RequesterID != "rider-1" {
		t.Errorf("unexpected trip: %+v", trip)
	}
	if trip.EstimatedFare <= 0 || trip.SurgeBps != service.NoSurgeBps {
		t.Errorf("unexpected pricing: fare %d surge %d", trip.EstimatedFare, trip.SurgeBps)
	}

	// A second open trip for the same rider is refused.
	w = post(`{"kind":"RIDE","vehicle_class":"CAR","pickup":{"lat":-6.2,"lng":106.8166},"dropoff":{"lat":-6.1751,"lng":106.865}}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var body handler.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != domain.CodeActiveTripExists {
		t.Errorf("error code = %s", body.Error.Code)
	}

	w = post(`{"kind":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}
}

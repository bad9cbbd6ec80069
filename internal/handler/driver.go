package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/domain"
	"hailing/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	driverService *service.DriverService
	tripService   *service.TripService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService, tripService *service.TripService) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
		tripService:   tripService,
	}
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	VehicleClass string `json:"vehicle_class"`
	PlateNumber  string `json:"plate_number"`
}

// VerifyDriverRequest is the HTTP request body for a verification change.
// Verified defaults to true.
type VerifyDriverRequest struct {
	Verified *bool `json:"verified"`
}

// Register handles POST /v1/drivers
func (h *DriverHandler) Register(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req RegisterDriverRequest
	if !bindJSON(c, &req) {
		return
	}

	driver, err := h.driverService.Register(c.Request.Context(), a, service.RegisterDriverRequest{
		UserID:       req.UserID,
		Name:         req.Name,
		Phone:        req.Phone,
		VehicleClass: domain.VehicleClass(req.VehicleClass),
		PlateNumber:  req.PlateNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// Verify handles POST /v1/drivers/:id/verify
func (h *DriverHandler) Verify(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req VerifyDriverRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	verified := req.Verified == nil || *req.Verified

	driver, err := h.driverService.Verify(c.Request.Context(), a, c.Param("id"), verified)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// Me handles GET /v1/drivers/me
func (h *DriverHandler) Me(c *gin.Context) {
	a, ok := driverActor(c)
	if !ok {
		return
	}
	driver, err := h.driverService.Get(c.Request.Context(), a.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// Online handles POST /v1/drivers/me/online
func (h *DriverHandler) Online(c *gin.Context) {
	a, ok := driverActor(c)
	if !ok {
		return
	}
	var req PointDTO
	if !bindJSON(c, &req) {
		return
	}
	err := h.driverService.SetOnline(c.Request.Context(), service.UpdateLocationRequest{
		DriverID: a.UserID,
		Lat:      req.Lat,
		Lng:      req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Offline handles POST /v1/drivers/me/offline
func (h *DriverHandler) Offline(c *gin.Context) {
	a, ok := driverActor(c)
	if !ok {
		return
	}
	if err := h.driverService.SetOffline(c.Request.Context(), a.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateLocation handles POST /v1/drivers/me/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	a, ok := driverActor(c)
	if !ok {
		return
	}
	var req PointDTO
	if !bindJSON(c, &req) {
		return
	}
	err := h.driverService.UpdateLocation(c.Request.Context(), service.UpdateLocationRequest{
		DriverID: a.UserID,
		Lat:      req.Lat,
		Lng:      req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// AvailableTrips handles GET /v1/drivers/me/available-trips
func (h *DriverHandler) AvailableTrips(c *gin.Context) {
	a, ok := driverActor(c)
	if !ok {
		return
	}
	trips, err := h.tripService.ListAvailableFor(c.Request.Context(), a, a.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"trips": toTripResponses(trips)})
}

func driverActor(c *gin.Context) (domain.Actor, bool) {
	a, ok := actor(c)
	if !ok {
		return a, false
	}
	if a.Role != domain.RoleDriver {
		respondError(c, fmt.Errorf("%w: driver role required", domain.ErrUnauthorized))
		return a, false
	}
	return a, true
}

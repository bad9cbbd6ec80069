package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"hailing/internal/domain"
	"hailing/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService    *service.TripService
	receiptService *service.ReceiptService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService, receiptService *service.ReceiptService) *TripHandler {
	return &TripHandler{tripService: tripService, receiptService: receiptService}
}

// CargoRequest is the parcel part of a delivery request.
type CargoRequest struct {
	WeightKg       decimal.Decimal `json:"weight_kg"`
	Description    string          `json:"description"`
	RecipientName  string          `json:"recipient_name"`
	RecipientPhone string          `json:"recipient_phone"`
}

// CreateTripRequest is the HTTP request body for requesting a trip.
type CreateTripRequest struct {
	Kind         string        `json:"kind"`
	Pickup       PointDTO      `json:"pickup"`
	Dropoff      PointDTO      `json:"dropoff"`
	VehicleClass string        `json:"vehicle_class"`
	Cargo        *CargoRequest `json:"cargo"`
}

// AssignRequest is the HTTP request body for an admin assignment.
type AssignRequest struct {
	DriverID string `json:"driver_id"`
}

// CancelRequest is the optional HTTP request body for a cancellation.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /v1/trips
func (h *TripHandler) Create(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req CreateTripRequest
	if !bindJSON(c, &req) {
		return
	}

	in := service.RequestTripRequest{
		Actor:        a,
		Kind:         domain.TripKind(req.Kind),
		Pickup:       req.Pickup.toDomain(),
		Dropoff:      req.Dropoff.toDomain(),
		VehicleClass: domain.VehicleClass(req.VehicleClass),
	}
	if req.Cargo != nil {
		in.Cargo = &service.CargoInput{
			WeightKg:       req.Cargo.WeightKg,
			Description:    req.Cargo.Description,
			RecipientName:  req.Cargo.RecipientName,
			RecipientPhone: req.Cargo.RecipientPhone,
		}
	}

	trip, err := h.tripService.RequestTrip(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toTripResponse(trip))
}

// List handles GET /v1/trips
func (h *TripHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	trips, err := h.tripService.ListMine(c.Request.Context(), a, limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"trips": toTripResponses(trips)})
}

// Get handles GET /v1/trips/:id
func (h *TripHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	trip, err := h.tripService.GetTrip(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// Events handles GET /v1/trips/:id/events
func (h *TripHandler) Events(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	events, err := h.tripService.Events(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]TripEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, TripEventResponse{
			From:      string(e.FromStatus),
			To:        string(e.ToStatus),
			ActorID:   e.ActorID,
			ActorRole: string(e.ActorRole),
			CreatedAt: e.CreatedAt,
		})
	}
	respondJSON(c, http.StatusOK, gin.H{"events": out})
}

// Assign handles POST /v1/trips/:id/assign
func (h *TripHandler) Assign(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req AssignRequest
	if !bindJSON(c, &req) {
		return
	}
	trip, err := h.tripService.AssignDriver(c.Request.Context(), a, c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// Accept handles POST /v1/trips/:id/accept
func (h *TripHandler) Accept(c *gin.Context) {
	h.step(c, h.tripService.AcceptTrip)
}

// Arrive handles POST /v1/trips/:id/arrive
func (h *TripHandler) Arrive(c *gin.Context) {
	h.step(c, h.tripService.ArriveAtPickup)
}

// Start handles POST /v1/trips/:id/start
func (h *TripHandler) Start(c *gin.Context) {
	h.step(c, h.tripService.Start)
}

// Complete handles POST /v1/trips/:id/complete
func (h *TripHandler) Complete(c *gin.Context) {
	h.step(c, h.tripService.Complete)
}

// Cancel handles POST /v1/trips/:id/cancel
func (h *TripHandler) Cancel(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req CancelRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	trip, err := h.tripService.Cancel(c.Request.Context(), a, c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// Location handles POST /v1/trips/:id/location
func (h *TripHandler) Location(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req PointDTO
	if !bindJSON(c, &req) {
		return
	}
	if err := h.tripService.UpdateLocation(c.Request.Context(), a, c.Param("id"), req.toDomain()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Receipt handles GET /v1/trips/:id/receipt; ?format=pdf returns a PDF.
func (h *TripHandler) Receipt(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	tripID := c.Param("id")
	receipt, err := h.receiptService.Get(c.Request.Context(), a, tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") != "pdf" {
		respondJSON(c, http.StatusOK, toReceiptResponse(receipt))
		return
	}
	pdf, err := h.receiptService.RenderPDF(receipt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="receipt-`+tripID+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (h *TripHandler) step(c *gin.Context, fn func(ctx context.Context, a domain.Actor, tripID string) (*domain.Trip, error)) {
	a, ok := actor(c)
	if !ok {
		return
	}
	trip, err := fn(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

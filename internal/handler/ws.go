package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/realtime"
	"hailing/internal/service"
)

const maxTopicsPerConnection = 8

// WSHandler upgrades authenticated clients to websocket subscriptions.
type WSHandler struct {
	hub         *realtime.Hub
	tripService *service.TripService
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. An empty or "*" origin list accepts
// any origin.
func NewWSHandler(hub *realtime.Hub, tripService *service.TripService, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	anyOrigin := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}
	return &WSHandler{
		hub:         hub,
		tripService: tripService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || allowed[origin]
			},
		},
	}
}

// Subscribe handles GET /v1/ws?topic=...; every topic must be readable by the caller.
func (h *WSHandler) Subscribe(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	topics := c.QueryArray("topic")
	if len(topics) == 0 || len(topics) > maxTopicsPerConnection {
		respondError(c, fmt.Errorf("%w: between 1 and %d topics required", domain.ErrValidation, maxTopicsPerConnection))
		return
	}
	for _, topic := range topics {
		if err := h.authorize(c, a, topic); err != nil {
			respondError(c, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the response.
		zap.L().Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(conn, topics)
}

// authorize decides whether the actor may follow a topic.
func (h *WSHandler) authorize(c *gin.Context, a domain.Actor, topic string) error {
	switch {
	case topic == service.TopicAvailableDrivers:
		if a.Role == domain.RoleDriver || a.Role == domain.RoleAdmin {
			return nil
		}
	case strings.HasPrefix(topic, "trip:"):
		_, err := h.tripService.GetTrip(c.Request.Context(), a, strings.TrimPrefix(topic, "trip:"))
		return err
	case strings.HasPrefix(topic, "wallet:"):
		if a.Role == domain.RoleAdmin || topic == service.WalletTopic(a.UserID) {
			return nil
		}
	case strings.HasPrefix(topic, "user:"):
		if a.Role == domain.RoleAdmin || topic == service.UserTopic(a.UserID) {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown topic %q", domain.ErrValidation, topic)
	}
	return fmt.Errorf("%w: cannot follow %s", domain.ErrUnauthorized, topic)
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hailing/internal/domain"
	"hailing/internal/middleware"
)

// ErrorBody is the machine-readable part of an error response.
type ErrorBody struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeNotFound:            http.StatusNotFound,
	domain.CodeInvalidTransition:   http.StatusConflict,
	domain.CodeUnauthorized:        http.StatusForbidden,
	domain.CodeUnauthenticated:     http.StatusUnauthorized,
	domain.CodeAlreadyAssigned:     http.StatusConflict,
	domain.CodeDriverIneligible:    http.StatusUnprocessableEntity,
	domain.CodeInsufficientBalance: http.StatusPaymentRequired,
	domain.CodeActiveTripExists:    http.StatusConflict,
	domain.CodeValidation:          http.StatusBadRequest,
}

// respondError sends an error response with the appropriate HTTP status code.
// Anything that is not a domain outcome is logged and hidden behind a 500.
func respondError(c *gin.Context, err error) {
	status, body := mapError(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: body, RequestID: middleware.RequestIDFrom(c)})
}

// mapError maps an error to its HTTP status and response body.
func mapError(err error) (int, ErrorBody) {
	var de *domain.Error
	if errors.As(err, &de) {
		status, ok := statusByCode[de.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		return status, ErrorBody{Code: de.Code, Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorBody{Code: "internal", Message: "internal server error"}
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// bindJSON decodes the request body, answering 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, &domain.Error{Code: domain.CodeValidation, Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// actor returns the authenticated caller, answering 401 when there is none.
func actor(c *gin.Context) (domain.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		respondError(c, domain.ErrUnauthenticated)
		return domain.Actor{}, false
	}
	return a, true
}

// limitParam parses ?limit=, returning 0 when absent or malformed.
func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

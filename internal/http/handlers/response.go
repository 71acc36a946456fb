// Package handlers implements the relay's HTTP endpoints.
//
// This file holds the response helpers. Two envelopes exist:
//
//   - ErrorResponse {request_id, code, message} for the service routes
//     (history, fallbacks, middleware rejections).
//   - RelayErrorResponse {error, ...} for POST /delivery, whose shape is
//     fixed by the clients that call it.
//
// Both log 5xx responses through the request-scoped logger.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-delivery-relay/internal/http/middleware"
)

// ErrorResponse is the error envelope for non-relay routes.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"relay call not found"`
}

// RelayErrorResponse is the error envelope of the delivery relay. Only the
// fields relevant to the failing step are set.
type RelayErrorResponse struct {
	Error             string   `json:"error" example:"Invalid action"`
	Code              string   `json:"code,omitempty" example:"upstream_error"`
	MissingVariables  []string `json:"missing_variables,omitempty"`
	RequiredVariables []string `json:"required_variables,omitempty"`
	ValidActions      []string `json:"valid_actions,omitempty"`
	Timestamp         string   `json:"timestamp,omitempty" example:"2025-01-02T15:04:05Z"`
	Environment       string   `json:"environment,omitempty" example:"sandbox"`
}

// fail aborts with an ErrorResponse.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// relayFail aborts with a RelayErrorResponse.
func relayFail(c *gin.Context, status int, body RelayErrorResponse) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", body.Code).
			Strs("missing_variables", body.MissingVariables).
			Msg(body.Error)
	}
	c.AbortWithStatusJSON(status, body)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// rawJSON writes an upstream JSON document without re-encoding it.
func rawJSON(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/json; charset=utf-8", body)
}

package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lakegate/lakegate/internal/actions"
	"github.com/lakegate/lakegate/internal/compact"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/flush"
	"github.com/lakegate/lakegate/internal/gateway"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Field  string `json:"field,omitempty"`
	Table  string `json:"table,omitempty"`
	Column string `json:"column,omitempty"`
}

// writeError maps domain errors onto the HTTP surface in one place.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		validationErr *delta.ValidationError
		actionErr     *actions.ValidationError
		mismatchErr   *schema.MismatchError
		driftErr      *hlc.DriftError
		pressureErr   *gateway.BackpressureError
		adapterErr    *gateway.AdapterNotFoundError
		flushErr      *flush.Error
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR", Field: validationErr.Field})
	case errors.As(err, &actionErr):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "ACTION_VALIDATION_ERROR"})
	case errors.Is(err, gateway.ErrForbidden):
		c.JSON(http.StatusForbidden, errorBody{Error: err.Error(), Code: "FORBIDDEN"})
	case errors.As(err, &mismatchErr):
		c.JSON(http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "SCHEMA_MISMATCH", Table: mismatchErr.Table, Column: mismatchErr.Column})
	case errors.As(err, &driftErr):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: "CLOCK_DRIFT"})
	case errors.As(err, &pressureErr):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "BACKPRESSURE"})
	case errors.As(err, &adapterErr):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error(), Code: "ADAPTER_NOT_FOUND"})
	case errors.Is(err, flush.ErrInProgress):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: "FLUSH_IN_PROGRESS"})
	case errors.Is(err, compact.ErrMaintenanceActive):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error(), Code: "MAINTENANCE_ACTIVE"})
	case errors.As(err, &flushErr):
		s.logger.Error("server: flush failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error(), Code: "FLUSH_ERROR"})
	case objstore.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error(), Code: "NOT_FOUND"})
	default:
		s.logger.Error("server: request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error(), Code: "INTERNAL"})
	}
}

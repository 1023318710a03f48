package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"go.uber.org/zap"
)

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotEnoughSeats),
		errors.Is(err, domain.ErrInsufficientCapacity):
		writeError(c, http.StatusConflict, "NOT_ENOUGH_SEATS", err)
	case errors.Is(err, domain.ErrMaxTicketsExceeded):
		writeError(c, http.StatusConflict, "MAX_TICKETS_EXCEEDED", err)
	case errors.Is(err, domain.ErrSignatureMismatch):
		writeError(c, http.StatusBadRequest, "SIGNATURE_MISMATCH", err)
	case errors.Is(err, domain.ErrAmountMismatch):
		writeError(c, http.StatusBadRequest, "AMOUNT_MISMATCH", err)
	case errors.Is(err, domain.ErrHoldExpired):
		c.JSON(http.StatusGone, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "HOLD_EXPIRED",
			Message: "The seat hold has lapsed. Please reserve again.",
		})
	case errors.Is(err, domain.ErrProviderUnavailable):
		writeError(c, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", err)
	case errors.Is(err, domain.ErrPaymentNotCaptured):
		writeError(c, http.StatusPaymentRequired, "PAYMENT_NOT_COMPLETED", err)
	case domain.IsNotFoundError(err):
		writeError(c, http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, domain.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", err)
	case errors.Is(err, domain.ErrBookingNotPending):
		writeError(c, http.StatusConflict, "BOOKING_NOT_PENDING", err)
	case errors.Is(err, domain.ErrEventNotBookable):
		writeError(c, http.StatusConflict, "EVENT_NOT_BOOKABLE", err)
	case domain.IsValidationError(err):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
	default:
		logger.Get().ErrorContext(c.Request.Context(), "unhandled error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	}
}

func writeError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, dto.ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error: "unauthorized",
		Code:  "UNAUTHORIZED",
	})
}

func badRequest(c *gin.Context, msg string, err error) {
	resp := dto.ErrorResponse{
		Error: msg,
		Code:  "INVALID_REQUEST",
	}
	if err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

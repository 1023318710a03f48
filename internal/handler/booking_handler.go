package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/service"
	"github.com/prohmpiriya/eventhub-booking/pkg/middleware"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	reservations service.ReservationService
	bookings     service.BookingService
	settlement   service.SettlementService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(reservations service.ReservationService, bookings service.BookingService, settlement service.SettlementService) *BookingHandler {
	return &BookingHandler{
		reservations: reservations,
		bookings:     bookings,
		settlement:   settlement,
	}
}

// ReserveSeats handles POST /bookings/reserve
func (h *BookingHandler) ReserveSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.reserve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		unauthorized(c)
		return
	}

	var req dto.ReserveSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		badRequest(c, "invalid request", err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", req.EventID),
		attribute.Int("number_of_tickets", req.NumberOfTickets),
	)

	result, err := h.reservations.ReserveSeats(ctx, userID, &req)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", result.BookingID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, result)
}

// ReleaseBooking handles POST /bookings/:id/release and DELETE /bookings/:id
func (h *BookingHandler) ReleaseBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.release")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := bookingRequest(c, span)
	if !ok {
		return
	}

	result, err := h.reservations.ReleaseBooking(ctx, bookingID, userID)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// ConfirmFree handles POST /bookings/:id/confirm-free
func (h *BookingHandler) ConfirmFree(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.confirm_free")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := bookingRequest(c, span)
	if !ok {
		return
	}

	var req dto.ConfirmFreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		badRequest(c, "invalid request", err)
		return
	}

	result, err := h.settlement.ConfirmFree(ctx, bookingID, userID, &req)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Bool("already_settled", result.AlreadySettled))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// ConfirmOrder handles POST /bookings/:id/confirm-order
func (h *BookingHandler) ConfirmOrder(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.confirm_order")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := bookingRequest(c, span)
	if !ok {
		return
	}

	var req dto.ConfirmOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		badRequest(c, "invalid request", err)
		return
	}
	span.SetAttributes(attribute.String("order_id", req.OrderID))

	result, err := h.settlement.ConfirmOrder(ctx, bookingID, userID, &req)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Bool("already_settled", result.AlreadySettled))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// ConfirmIntent handles POST /bookings/:id/confirm-intent
func (h *BookingHandler) ConfirmIntent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.confirm_intent")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := bookingRequest(c, span)
	if !ok {
		return
	}

	var req dto.ConfirmIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		badRequest(c, "invalid request", err)
		return
	}
	span.SetAttributes(attribute.String("intent_id", req.IntentID))

	result, err := h.settlement.ConfirmIntent(ctx, bookingID, userID, &req)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Bool("already_settled", result.AlreadySettled))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// CancelBooking handles PUT /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := bookingRequest(c, span)
	if !ok {
		return
	}
	isAdmin := middleware.IsAdmin(c)
	span.SetAttributes(attribute.Bool("is_admin", isAdmin))

	result, err := h.bookings.CancelBooking(ctx, bookingID, userID, isAdmin)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// RefundBooking handles PUT /bookings/:id/refund. Admin only.
func (h *BookingHandler) RefundBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.refund")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	_, bookingID, ok := bookingRequest(c, span)
	if !ok {
		return
	}

	result, err := h.bookings.RefundBooking(ctx, bookingID)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, bookingID, ok := bookingRequest(c, span)
	if !ok {
		return
	}

	result, err := h.bookings.GetBooking(ctx, bookingID, userID, middleware.IsAdmin(c))
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// GetUserBookings handles GET /bookings
func (h *BookingHandler) GetUserBookings(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		unauthorized(c)
		return
	}

	page := 1
	pageSize := 20
	if p := c.Query("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if n, err := strconv.Atoi(ps); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	result, err := h.bookings.GetUserBookings(ctx, userID, page, pageSize)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// GetAvailability handles GET /events/:id/availability
func (h *BookingHandler) GetAvailability(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.availability")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID := c.Param("id")
	span.SetAttributes(attribute.String("event_id", eventID))

	result, err := h.reservations.GetAvailability(ctx, eventID)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, result)
}

// bookingRequest extracts the caller and the :id path parameter, writing the error response itself
func bookingRequest(c *gin.Context, span trace.Span) (string, string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		unauthorized(c)
		return "", "", false
	}

	bookingID := c.Param("id")
	if bookingID == "" {
		span.SetStatus(codes.Error, "booking id required")
		badRequest(c, "booking id required", nil)
		return "", "", false
	}

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("user_id", userID),
	)
	return userID, bookingID, true
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

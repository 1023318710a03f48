package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/service"
	"github.com/prohmpiriya/eventhub-booking/pkg/middleware"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PaymentHandler handles checkout requests that precede a confirmation
type PaymentHandler struct {
	settlement service.SettlementService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(settlement service.SettlementService) *PaymentHandler {
	return &PaymentHandler{settlement: settlement}
}

// GetConfig handles GET /payments/config
func (h *PaymentHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.settlement.GetPaymentConfig(c.Request.Context()))
}

// CreateOrder handles POST /payments/orders
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.create_order")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		unauthorized(c)
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		badRequest(c, "invalid request", err)
		return
	}
	span.SetAttributes(attribute.String("booking_id", req.BookingID))

	result, err := h.settlement.CreateOrder(ctx, userID, &req)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, result)
}

// CreateIntent handles POST /payments/intents
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.create_intent")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		unauthorized(c)
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		badRequest(c, "invalid request", err)
		return
	}
	span.SetAttributes(attribute.String("booking_id", req.BookingID))

	result, err := h.settlement.CreateIntent(ctx, userID, &req)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, result)
}

// CreateQRCode handles POST /payments/qr
func (h *PaymentHandler) CreateQRCode(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.create_qr_code")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		unauthorized(c)
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		badRequest(c, "invalid request", err)
		return
	}
	span.SetAttributes(attribute.String("booking_id", req.BookingID))

	result, err := h.settlement.CreateQRCode(ctx, userID, &req)
	if err != nil {
		fail(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, result)
}

package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/gateway"
	"github.com/prohmpiriya/eventhub-booking/internal/service"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 64 << 10

// WebhookHandler verifies provider webhooks and hands them to settlement.
// Either gateway may be nil when that provider is not configured.
type WebhookHandler struct {
	settlement    service.SettlementService
	orderGateway  gateway.OrderGateway
	intentGateway gateway.IntentGateway
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(settlement service.SettlementService, orderGateway gateway.OrderGateway, intentGateway gateway.IntentGateway) *WebhookHandler {
	return &WebhookHandler{
		settlement:    settlement,
		orderGateway:  orderGateway,
		intentGateway: intentGateway,
	}
}

// HandleStripeWebhook handles POST /webhooks/stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	if h.intentGateway == nil {
		providerNotConfigured(c, "stripe")
		return
	}

	payload, ok := readWebhookBody(c)
	if !ok {
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		logger.Get().Warn("missing Stripe-Signature header")
		badRequest(c, "missing Stripe-Signature header", nil)
		return
	}

	evt, err := h.intentGateway.ParseWebhook(payload, sigHeader)
	if err != nil {
		rejectWebhook(c, "stripe", err)
		return
	}

	h.apply(c, evt)
}

// HandleRazorpayWebhook handles POST /webhooks/razorpay
func (h *WebhookHandler) HandleRazorpayWebhook(c *gin.Context) {
	if h.orderGateway == nil {
		providerNotConfigured(c, "razorpay")
		return
	}

	payload, ok := readWebhookBody(c)
	if !ok {
		return
	}

	signature := c.GetHeader("X-Razorpay-Signature")
	if signature == "" {
		logger.Get().Warn("missing X-Razorpay-Signature header")
		badRequest(c, "missing X-Razorpay-Signature header", nil)
		return
	}

	evt, err := h.orderGateway.ParseWebhook(payload, signature, c.GetHeader("X-Razorpay-Event-Id"))
	if err != nil {
		rejectWebhook(c, "razorpay", err)
		return
	}

	h.apply(c, evt)
}

func (h *WebhookHandler) apply(c *gin.Context, evt *gateway.WebhookEvent) {
	logger.Get().Info("received webhook",
		zap.String("provider", evt.Provider),
		zap.String("webhook_id", evt.ID),
		zap.String("type", evt.Type),
	)

	result, err := h.settlement.HandleWebhook(c.Request.Context(), evt)
	if err != nil {
		// a non-2xx makes the provider redeliver
		logger.Get().ErrorContext(c.Request.Context(), "failed to apply webhook",
			zap.String("provider", evt.Provider),
			zap.String("webhook_id", evt.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "failed to process webhook",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func readWebhookBody(c *gin.Context) ([]byte, bool) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		logger.Get().Error("failed to read webhook body", zap.Error(err))
		badRequest(c, "failed to read request body", nil)
		return nil, false
	}
	return payload, true
}

func rejectWebhook(c *gin.Context, provider string, err error) {
	logger.Get().Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
	code := "INVALID_PAYLOAD"
	if errors.Is(err, gateway.ErrInvalidWebhookSignature) {
		code = "INVALID_SIGNATURE"
	}
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error: "invalid webhook",
		Code:  code,
	})
}

func providerNotConfigured(c *gin.Context, provider string) {
	c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
		Error: provider + " is not configured",
		Code:  "PROVIDER_UNAVAILABLE",
	})
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeGateway implements IntentGateway using Stripe PaymentIntents
type StripeGateway struct {
	config *StripeGatewayConfig
	api    *client.API
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	Backends       *stripe.Backends
}

// NewStripeGateway creates a Stripe gateway with its own API client
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	api := &client.API{}
	api.Init(config.SecretKey, config.Backends)

	return &StripeGateway{
		config: config,
		api:    api,
	}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return domain.ProviderStripe
}

// PublishableKey returns the key the client SDK needs
func (g *StripeGateway) PublishableKey() string {
	return g.config.PublishableKey
}

// CreateIntent creates a PaymentIntent with automatic payment methods
func (g *StripeGateway) CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	if req == nil {
		return nil, fmt.Errorf("payment intent request is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payment intent amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: make(map[string]string),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create payment intent: %v", ErrProviderRequest, err)
	}

	return toIntent(pi), nil
}

// GetIntent retrieves a PaymentIntent
func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, fmt.Errorf("payment intent ID is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get payment intent: %v", ErrProviderRequest, err)
	}

	return toIntent(pi), nil
}

// Refund refunds a PaymentIntent
func (g *StripeGateway) Refund(ctx context.Context, intentID string, amount int64) error {
	if intentID == "" {
		return fmt.Errorf("payment intent ID is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx

	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("%w: failed to create refund: %v", ErrProviderRequest, err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	if g.config.WebhookSecret == "" || signatureHeader == "" {
		return nil, ErrInvalidWebhookSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	return normalizeStripeEvent(event)
}

func normalizeStripeEvent(event stripe.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{
		Provider: domain.ProviderStripe,
		ID:       event.ID,
		Type:     string(event.Type),
		Kind:     WebhookIgnored,
	}

	switch string(event.Type) {
	case "payment_intent.succeeded":
		out.Kind = WebhookPaymentSucceeded
	case "payment_intent.payment_failed":
		out.Kind = WebhookPaymentFailed
	default:
		return out, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("failed to parse payment intent: %w", err)
	}

	intent := toIntent(&pi)
	out.BookingID = pi.Metadata["booking_id"]
	out.PaymentID = pi.ID
	out.OrderID = pi.ID
	out.Amount = pi.Amount
	out.Currency = intent.Currency
	out.Method = intent.Method
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	method := ""
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		method = string(pi.PaymentMethod.Type)
	} else if len(pi.PaymentMethodTypes) > 0 {
		method = pi.PaymentMethodTypes[0]
	}

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Status:       string(pi.Status),
		Method:       method,
		Metadata:     pi.Metadata,
	}
}

var _ IntentGateway = (*StripeGateway)(nil)

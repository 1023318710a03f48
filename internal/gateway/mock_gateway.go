package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/stripe/stripe-go/v82"
)

// alphanumericChars for generating provider-like IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomAlphanumeric generates a random alphanumeric string of given length
func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockGateway is an in-memory provider implementing both OrderGateway and
// IntentGateway. Signatures are real HMACs over its own secrets.
type MockGateway struct {
	config   *MockGatewayConfig
	orders   sync.Map // orderID -> *Order
	payments sync.Map // paymentID -> *PaymentInfo
	intents  sync.Map // intentID -> *Intent
	qrCodes  sync.Map // qrID -> *QRCode
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	Name          string
	KeySecret     string
	WebhookSecret string

	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		Name:          domain.ProviderMock,
		KeySecret:     "mock_key_secret",
		WebhookSecret: "mock_webhook_secret",
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	if config.Name == "" {
		config.Name = domain.ProviderMock
	}
	return &MockGateway{config: config}
}

func (g *MockGateway) delay(ctx context.Context) error {
	if g.config.DelayMs <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		return nil
	}
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return g.config.Name
}

// KeyID returns a placeholder public key
func (g *MockGateway) KeyID() string {
	return "mock_key_id"
}

// PublishableKey returns a placeholder publishable key
func (g *MockGateway) PublishableKey() string {
	return "pk_mock"
}

// CreateOrder stores a new order
func (g *MockGateway) CreateOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if req == nil || req.Amount <= 0 {
		return nil, fmt.Errorf("order amount must be positive")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	order := &Order{
		ID:       "order_" + randomAlphanumeric(14),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}
	g.orders.Store(order.ID, order)
	return order, nil
}

// Pay simulates the buyer completing checkout for an order and returns the
// payment id and the signature the provider would hand back
func (g *MockGateway) Pay(orderID, method string) (string, string, error) {
	v, ok := g.orders.Load(orderID)
	if !ok {
		return "", "", fmt.Errorf("order not found: %s", orderID)
	}
	order := v.(*Order)

	payment := &PaymentInfo{
		ID:       "pay_" + randomAlphanumeric(14),
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   PaymentStatusCaptured,
		Method:   method,
	}
	g.payments.Store(payment.ID, payment)
	return payment.ID, OrderPaymentSignature(g.config.KeySecret, order.ID, payment.ID), nil
}

// SetPayment overrides a stored payment
func (g *MockGateway) SetPayment(payment *PaymentInfo) {
	g.payments.Store(payment.ID, payment)
}

// FetchPayment retrieves a stored payment
func (g *MockGateway) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	v, ok := g.payments.Load(paymentID)
	if !ok {
		return nil, fmt.Errorf("%w: payment not found: %s", ErrProviderRequest, paymentID)
	}
	p := *v.(*PaymentInfo)
	return &p, nil
}

// VerifyPaymentSignature checks the HMAC computed with the mock key secret
func (g *MockGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return VerifyHex(g.config.KeySecret, []byte(orderID+"|"+paymentID), signature)
}

// SignWebhook signs a payload with the mock webhook secret
func (g *MockGateway) SignWebhook(payload []byte) string {
	return SignHex(g.config.WebhookSecret, payload)
}

// CreateIntent stores a new intent awaiting a payment method
func (g *MockGateway) CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	if req == nil || req.Amount <= 0 {
		return nil, fmt.Errorf("payment intent amount must be positive")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	id := "pi_" + randomAlphanumeric(24)
	intent := &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + randomAlphanumeric(24),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       IntentStatusRequiresPaymentMethod,
		Metadata:     req.Metadata,
	}
	g.intents.Store(id, intent)
	return intent, nil
}

// SetIntentStatus simulates the client confirming or abandoning an intent
func (g *MockGateway) SetIntentStatus(intentID, status string) error {
	v, ok := g.intents.Load(intentID)
	if !ok {
		return fmt.Errorf("intent not found: %s", intentID)
	}
	updated := *v.(*Intent)
	updated.Status = status
	if status == IntentStatusSucceeded && updated.Method == "" {
		updated.Method = "card"
	}
	g.intents.Store(intentID, &updated)
	return nil
}

// GetIntent retrieves a stored intent
func (g *MockGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	v, ok := g.intents.Load(intentID)
	if !ok {
		return nil, fmt.Errorf("%w: intent not found: %s", ErrProviderRequest, intentID)
	}
	i := *v.(*Intent)
	return &i, nil
}

// Refund marks a stored payment or intent as refunded
func (g *MockGateway) Refund(ctx context.Context, id string, amount int64) error {
	if err := g.delay(ctx); err != nil {
		return err
	}
	if v, ok := g.payments.Load(id); ok {
		p := *v.(*PaymentInfo)
		if amount != p.Amount {
			return fmt.Errorf("%w: refund %d does not match payment %d", ErrProviderRequest, amount, p.Amount)
		}
		p.Status = PaymentStatusRefunded
		g.payments.Store(id, &p)
		return nil
	}
	if _, ok := g.intents.Load(id); !ok {
		return fmt.Errorf("%w: payment not found: %s", ErrProviderRequest, id)
	}
	return g.SetIntentStatus(id, PaymentStatusRefunded)
}

// CreateQRCode stores an active QR code; PayQRCode settles it
func (g *MockGateway) CreateQRCode(ctx context.Context, req *QRCodeRequest) (*QRCode, error) {
	if req == nil || req.Amount <= 0 {
		return nil, fmt.Errorf("qr code amount must be positive")
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	id := "qr_" + randomAlphanumeric(14)
	qr := &QRCode{
		ID:            id,
		ImageURL:      "https://mock.invalid/qr/" + id + ".png",
		PaymentAmount: req.Amount,
		Status:        "active",
		CloseBy:       req.CloseBy.Unix(),
		Notes:         req.Notes,
	}
	g.qrCodes.Store(id, qr)
	return qr, nil
}

// PayQRCode simulates a scan-and-pay and returns the signed qr_code.credited
// webhook the provider would deliver
func (g *MockGateway) PayQRCode(qrID string) ([]byte, string, error) {
	v, ok := g.qrCodes.Load(qrID)
	if !ok {
		return nil, "", fmt.Errorf("qr code not found: %s", qrID)
	}
	qr := *v.(*QRCode)
	if qr.Status != "active" {
		return nil, "", fmt.Errorf("qr code %s is %s", qrID, qr.Status)
	}
	qr.Status = "closed"
	g.qrCodes.Store(qrID, &qr)

	payment := &PaymentInfo{
		ID:       "pay_" + randomAlphanumeric(14),
		Amount:   qr.PaymentAmount,
		Currency: "INR",
		Status:   PaymentStatusCaptured,
		Method:   "upi",
	}
	g.payments.Store(payment.ID, payment)

	var wh razorpayWebhook
	wh.Event = "qr_code.credited"
	wh.Payload.Payment.Entity.ID = payment.ID
	wh.Payload.Payment.Entity.Amount = payment.Amount
	wh.Payload.Payment.Entity.Currency = payment.Currency
	wh.Payload.Payment.Entity.Status = payment.Status
	wh.Payload.Payment.Entity.Method = payment.Method
	wh.Payload.QRCode.Entity.ID = qr.ID
	wh.Payload.QRCode.Entity.Notes = qr.Notes

	payload, err := json.Marshal(wh)
	if err != nil {
		return nil, "", err
	}
	return payload, g.SignWebhook(payload), nil
}

// ParseWebhook accepts Stripe-shaped event payloads signed with the mock webhook secret
func (g *MockGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if !VerifyHex(g.config.WebhookSecret, payload, signature) {
		return nil, ErrInvalidWebhookSignature
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}

	out, err := normalizeStripeEvent(event)
	if err != nil {
		return nil, err
	}
	out.Provider = g.config.Name
	return out, nil
}

var (
	_ IntentGateway     = (*MockGateway)(nil)
	_ CheckoutSimulator = (*MockGateway)(nil)
)

// mockOrderGateway adapts MockGateway to OrderGateway, whose ParseWebhook takes an event id
type mockOrderGateway struct {
	*MockGateway
}

// AsOrderGateway exposes the mock as an OrderGateway
func (g *MockGateway) AsOrderGateway() OrderGateway {
	return mockOrderGateway{g}
}

var _ OrderGateway = mockOrderGateway{}

func (g mockOrderGateway) ParseWebhook(payload []byte, signature, eventID string) (*WebhookEvent, error) {
	if !VerifyHex(g.config.WebhookSecret, payload, signature) {
		return nil, ErrInvalidWebhookSignature
	}
	event, err := parseRazorpayWebhook(payload, eventID)
	if err != nil {
		return nil, err
	}
	event.Provider = g.config.Name
	return event, nil
}

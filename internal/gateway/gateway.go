package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrProviderRequest is returned when a provider call fails or times out
var ErrProviderRequest = errors.New("payment provider request failed")

// ErrInvalidWebhookSignature is returned when a webhook payload fails verification
var ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

// OrderGateway is a provider where the server creates an order up front and the
// client returns a signed order/payment pair
type OrderGateway interface {
	Name() string
	KeyID() string

	// CreateOrder creates a provider order sized to the amount in minor units
	CreateOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// FetchPayment returns the authoritative payment record
	FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)

	// VerifyPaymentSignature checks HMAC-SHA256(orderID|paymentID) against signature
	VerifyPaymentSignature(orderID, paymentID, signature string) bool

	// CreateQRCode creates a single-use UPI QR code for a fixed amount
	CreateQRCode(ctx context.Context, req *QRCodeRequest) (*QRCode, error)

	// Refund refunds a captured payment in full
	Refund(ctx context.Context, paymentID string, amount int64) error

	// ParseWebhook verifies and normalizes a webhook delivery
	ParseWebhook(payload []byte, signature, eventID string) (*WebhookEvent, error)
}

// CheckoutSimulator completes a buyer's side of checkout in process. Only the
// in-memory gateway implements it, so a gateway that does is never real money.
type CheckoutSimulator interface {
	Pay(orderID, method string) (paymentID, signature string, err error)
	SetIntentStatus(intentID, status string) error
}

// IsSimulated reports whether gw settles without a real provider
func IsSimulated(gw interface{}) bool {
	_, ok := gw.(CheckoutSimulator)
	return ok
}

// IntentGateway is a provider where the client confirms a server-created intent
type IntentGateway interface {
	Name() string
	PublishableKey() string

	// CreateIntent creates a payment intent sized to the amount in minor units
	CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error)

	// GetIntent re-fetches an intent from the provider
	GetIntent(ctx context.Context, intentID string) (*Intent, error)

	// Refund refunds an intent in full
	Refund(ctx context.Context, intentID string, amount int64) error

	// ParseWebhook verifies and normalizes a webhook delivery
	ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// OrderRequest describes a provider order
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is a created provider order
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment statuses reported by order providers
const (
	PaymentStatusCreated    = "created"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// QRCodeRequest describes a single-use, fixed-amount UPI QR code
type QRCodeRequest struct {
	Name        string
	Description string
	Amount      int64
	CloseBy     time.Time
	Notes       map[string]string
}

// QRCode is a created provider QR code
type QRCode struct {
	ID            string            `json:"id"`
	ImageURL      string            `json:"image_url"`
	PaymentAmount int64             `json:"payment_amount"`
	Status        string            `json:"status"`
	CloseBy       int64             `json:"close_by"`
	Notes         map[string]string `json:"notes"`
}

// PaymentInfo is the provider's record of a payment
type PaymentInfo struct {
	ID       string            `json:"id"`
	OrderID  string            `json:"order_id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Method   string            `json:"method"`
	Notes    map[string]string `json:"notes"`
}

// IsSuccessful returns true once funds are authorized or captured
func (p *PaymentInfo) IsSuccessful() bool {
	return p.Status == PaymentStatusCaptured || p.Status == PaymentStatusAuthorized
}

// IntentRequest describes a payment intent
type IntentRequest struct {
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// Intent statuses
const (
	IntentStatusSucceeded             = "succeeded"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusCanceled              = "canceled"
)

// Intent is a provider payment intent
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Method       string            `json:"method"`
	Metadata     map[string]string `json:"metadata"`
}

// Succeeded returns true if the provider reports the intent as paid
func (i *Intent) Succeeded() bool {
	return i.Status == IntentStatusSucceeded
}

// WebhookEventKind is the normalized meaning of a webhook delivery
type WebhookEventKind string

const (
	WebhookPaymentSucceeded WebhookEventKind = "payment_succeeded"
	WebhookPaymentFailed    WebhookEventKind = "payment_failed"
	WebhookIgnored          WebhookEventKind = "ignored"
)

// WebhookEvent is a verified, provider-neutral webhook delivery
type WebhookEvent struct {
	Provider      string
	ID            string
	Type          string
	Kind          WebhookEventKind
	BookingID     string
	PaymentID     string
	OrderID       string
	Amount        int64
	Currency      string
	Method        string
	FailureReason string
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com"

// RazorpayGateway implements OrderGateway against the Razorpay REST API
type RazorpayGateway struct {
	config     *RazorpayGatewayConfig
	httpClient *http.Client
}

// RazorpayGatewayConfig holds configuration for the Razorpay gateway
type RazorpayGatewayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// NewRazorpayGateway creates a new Razorpay gateway
func NewRazorpayGateway(config *RazorpayGatewayConfig) (*RazorpayGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("razorpay config is required")
	}
	if config.KeyID == "" || config.KeySecret == "" {
		return nil, fmt.Errorf("razorpay key id and secret are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultRazorpayBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &RazorpayGateway{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name returns the gateway name
func (g *RazorpayGateway) Name() string {
	return domain.ProviderRazorpay
}

// KeyID returns the public key id the checkout widget needs
func (g *RazorpayGateway) KeyID() string {
	return g.config.KeyID
}

// CreateOrder creates a Razorpay order
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	if req == nil {
		return nil, fmt.Errorf("order request is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("order amount must be positive")
	}

	body := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    req.Notes,
	}

	var order Order
	if err := g.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchPayment retrieves a payment by id
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	var payment PaymentInfo
	if err := g.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// VerifyPaymentSignature recomputes HMAC-SHA256(orderID|paymentID) with the key secret
func (g *RazorpayGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return VerifyHex(g.config.KeySecret, []byte(orderID+"|"+paymentID), signature)
}

// razorpay rejects a close_by less than two minutes out
const minQRCodeLifetime = 2 * time.Minute

// CreateQRCode creates a single-use UPI QR code that closes at req.CloseBy
func (g *RazorpayGateway) CreateQRCode(ctx context.Context, req *QRCodeRequest) (*QRCode, error) {
	if req == nil {
		return nil, fmt.Errorf("qr code request is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("qr code amount must be positive")
	}
	if time.Until(req.CloseBy) < minQRCodeLifetime {
		return nil, fmt.Errorf("qr code must stay open for at least %s", minQRCodeLifetime)
	}

	body := map[string]interface{}{
		"type":           "upi_qr",
		"name":           req.Name,
		"usage":          "single_use",
		"fixed_amount":   true,
		"payment_amount": req.Amount,
		"description":    req.Description,
		"close_by":       req.CloseBy.Unix(),
		"notes":          req.Notes,
	}

	var qr QRCode
	if err := g.do(ctx, http.MethodPost, "/v1/payments/qr_codes", body, &qr); err != nil {
		return nil, err
	}
	return &qr, nil
}

// Refund issues a full refund for a captured payment
func (g *RazorpayGateway) Refund(ctx context.Context, paymentID string, amount int64) error {
	if paymentID == "" {
		return fmt.Errorf("payment id is required")
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	return g.do(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/refund", map[string]interface{}{
		"amount": amount,
	}, &refund)
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string        `json:"id"`
				OrderID          string        `json:"order_id"`
				Amount           int64         `json:"amount"`
				Currency         string        `json:"currency"`
				Status           string        `json:"status"`
				Method           string        `json:"method"`
				ErrorDescription string        `json:"error_description"`
				Notes            razorpayNotes `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		QRCode struct {
			Entity struct {
				ID    string        `json:"id"`
				Notes razorpayNotes `json:"notes"`
			} `json:"entity"`
		} `json:"qr_code"`
	} `json:"payload"`
}

// razorpayNotes decodes notes, which Razorpay sends as [] when empty
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		*n = nil
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

// ParseWebhook verifies X-Razorpay-Signature over the raw body and normalizes the event
func (g *RazorpayGateway) ParseWebhook(payload []byte, signature, eventID string) (*WebhookEvent, error) {
	if g.config.WebhookSecret == "" || !VerifyHex(g.config.WebhookSecret, payload, signature) {
		return nil, ErrInvalidWebhookSignature
	}
	return parseRazorpayWebhook(payload, eventID)
}

func parseRazorpayWebhook(payload []byte, eventID string) (*WebhookEvent, error) {
	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, fmt.Errorf("failed to parse razorpay webhook: %w", err)
	}

	entity := wh.Payload.Payment.Entity
	if eventID == "" {
		eventID = wh.Event + ":" + entity.ID
	}

	event := &WebhookEvent{
		Provider:      domain.ProviderRazorpay,
		ID:            eventID,
		Type:          wh.Event,
		BookingID:     entity.Notes["booking_id"],
		PaymentID:     entity.ID,
		OrderID:       entity.OrderID,
		Amount:        entity.Amount,
		Currency:      strings.ToUpper(entity.Currency),
		Method:        entity.Method,
		FailureReason: entity.ErrorDescription,
	}
	// QR code payments carry the booking on the QR code, not the payment
	if event.BookingID == "" {
		event.BookingID = wh.Payload.QRCode.Entity.Notes["booking_id"]
	}

	switch wh.Event {
	case "payment.captured", "qr_code.credited":
		event.Kind = WebhookPaymentSucceeded
	case "payment.failed":
		event.Kind = WebhookPaymentFailed
	default:
		event.Kind = WebhookIgnored
	}
	return event, nil
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(g.config.KeyID, g.config.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrProviderRequest, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr razorpayError
		_ = json.Unmarshal(data, &apiErr)
		return fmt.Errorf("%w: razorpay %s %s returned %d: %s",
			ErrProviderRequest, method, path, resp.StatusCode, apiErr.Error.Description)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode razorpay response: %w", err)
	}
	return nil
}

var _ OrderGateway = (*RazorpayGateway)(nil)

package dto

// CreatePaymentRequest asks for a provider order or intent for a booking
type CreatePaymentRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
}

// CreateOrderResponse is returned after an order is created on the order path
type CreateOrderResponse struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
	MockMode bool   `json:"mock_mode,omitempty"`
}

// CreateIntentResponse is returned after an intent is created on the intent path
type CreateIntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	MockMode     bool   `json:"mock_mode,omitempty"`
}

// CreateQRCodeResponse carries a single-use UPI QR code for a booking.
// The booking settles when the provider reports the QR payment by webhook.
type CreateQRCodeResponse struct {
	QRCodeID  string `json:"qr_code_id"`
	ImageURL  string `json:"qr_code"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	ExpiresAt int64  `json:"expires_at"`
	MockMode  bool   `json:"mock_mode,omitempty"`
}

// ProviderConfig describes whether a provider is usable by the client
type ProviderConfig struct {
	Enabled        bool   `json:"enabled"`
	KeyID          string `json:"key_id,omitempty"`
	PublishableKey string `json:"publishable_key,omitempty"`
}

// PaymentConfigResponse tells the client which payment flows are available
type PaymentConfigResponse struct {
	Razorpay ProviderConfig `json:"razorpay"`
	Stripe   ProviderConfig `json:"stripe"`
	MockMode bool           `json:"mock_mode"`
}

// WebhookResponse acknowledges a webhook delivery
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

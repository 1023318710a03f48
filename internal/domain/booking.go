package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRefunded  BookingStatus = "refunded"
)

func (s BookingStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no transition leaves this status
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusRefunded
}

// HoldsSeats returns true while the booking's tickets count against capacity
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// StatusReason records why a booking left its previous state
type StatusReason string

const (
	ReasonExpired        StatusReason = "expired"
	ReasonBuyerCancelled StatusReason = "buyer-cancelled"
	ReasonAdminCancelled StatusReason = "admin-cancelled"
	ReasonRefundIssued   StatusReason = "refund-issued"
	ReasonPaymentSettled StatusReason = "payment-settled"
)

var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusRefunded, BookingStatusCancelled},
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentStatus is the state of the payment sub-record
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment providers and synthetic methods
const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
	ProviderFree     = "free"
	ProviderMock     = "mock"
)

// Payment is the payment sub-record of a booking
type Payment struct {
	Provider  string        `json:"provider,omitempty"`
	PaymentID string        `json:"payment_id,omitempty"`
	OrderID   string        `json:"order_id,omitempty"`
	Method    string        `json:"method,omitempty"`
	Status    PaymentStatus `json:"status"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
}

// AttendeeInfo is contact data captured when a booking is confirmed
type AttendeeInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Normalize trims whitespace and lowercases the email
func (a AttendeeInfo) Normalize() AttendeeInfo {
	return AttendeeInfo{
		Name:  strings.TrimSpace(a.Name),
		Email: strings.ToLower(strings.TrimSpace(a.Email)),
		Phone: strings.TrimSpace(a.Phone),
	}
}

// Validate requires a name and a parseable email on every confirm path
func (a AttendeeInfo) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAttendeeInfo)
	}
	if a.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidAttendeeInfo)
	}
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return fmt.Errorf("%w: email is malformed", ErrInvalidAttendeeInfo)
	}
	return nil
}

// IsZero returns true when no attendee data was captured
func (a AttendeeInfo) IsZero() bool {
	return a.Name == "" && a.Email == "" && a.Phone == ""
}

// Booking represents one buyer's claim on N seats of one event
type Booking struct {
	ID              string        `json:"id"`
	BookingCode     string        `json:"booking_code"`
	EventID         string        `json:"event_id"`
	UserID          string        `json:"user_id"`
	NumberOfTickets int           `json:"number_of_tickets"`
	TotalAmount     int64         `json:"total_amount"` // minor units
	Currency        string        `json:"currency"`
	Status          BookingStatus `json:"status"`
	StatusReason    StatusReason  `json:"status_reason,omitempty"`
	HoldExpiry      *time.Time    `json:"hold_expiry,omitempty"`
	Payment         Payment       `json:"payment"`
	Attendee        AttendeeInfo  `json:"attendee"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// BelongsToUser checks if the booking belongs to the specified user
func (b *Booking) BelongsToUser(userID string) bool {
	return b.UserID == userID
}

// IsPending returns true if the booking still holds an unpaid claim
func (b *Booking) IsPending() bool {
	return b.Status == BookingStatusPending
}

// IsConfirmed returns true if the booking has been settled
func (b *Booking) IsConfirmed() bool {
	return b.Status == BookingStatusConfirmed
}

// IsHoldExpired returns true if a pending booking's hold has lapsed at now
func (b *Booking) IsHoldExpired(now time.Time) bool {
	return b.Status == BookingStatusPending && b.HoldExpiry != nil && !now.Before(*b.HoldExpiry)
}

// WasExpired returns true if the booking was cancelled because its hold lapsed
func (b *Booking) WasExpired() bool {
	return b.Status == BookingStatusCancelled && b.StatusReason == ReasonExpired
}

const bookingCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewBookingCode returns BK<unix-millis><5 random upper-case alphanumerics>
func NewBookingCode(now time.Time) string {
	var sb strings.Builder
	sb.WriteString("BK")
	sb.WriteString(fmt.Sprintf("%d", now.UnixMilli()))
	max := big.NewInt(int64(len(bookingCodeAlphabet)))
	for i := 0; i < 5; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			n = big.NewInt(int64(now.UnixNano()+int64(i)) % max.Int64())
		}
		sb.WriteByte(bookingCodeAlphabet[n.Int64()])
	}
	return sb.String()
}

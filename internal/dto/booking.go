package dto

import (
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
)

// ReserveSeatsRequest represents request to reserve seats
type ReserveSeatsRequest struct {
	EventID         string `json:"event_id" binding:"required"`
	NumberOfTickets int    `json:"number_of_tickets" binding:"required,min=1"`
}

// ReserveSeatsResponse represents response after reserving seats
type ReserveSeatsResponse struct {
	BookingID      string    `json:"booking_id"`
	BookingCode    string    `json:"booking_code"`
	Status         string    `json:"status"`
	HoldExpiry     time.Time `json:"hold_expiry"`
	TotalAmount    int64     `json:"total_amount"`
	Currency       string    `json:"currency"`
	AvailableSeats int       `json:"available_seats"`
}

// AttendeeInfo is attendee contact data in requests and responses
type AttendeeInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// ToDomain converts to the domain attendee
func (a AttendeeInfo) ToDomain() domain.AttendeeInfo {
	return domain.AttendeeInfo{Name: a.Name, Email: a.Email, Phone: a.Phone}
}

// ConfirmFreeRequest confirms a booking on a free event
type ConfirmFreeRequest struct {
	AttendeeInfo AttendeeInfo `json:"attendee_info"`
}

// ConfirmOrderRequest confirms a booking paid through the order path
type ConfirmOrderRequest struct {
	OrderID      string       `json:"order_id"`
	PaymentID    string       `json:"payment_id"`
	Signature    string       `json:"signature"`
	AttendeeInfo AttendeeInfo `json:"attendee_info"`
}

// ConfirmIntentRequest confirms a booking paid through the intent path
type ConfirmIntentRequest struct {
	IntentID     string       `json:"intent_id"`
	AttendeeInfo AttendeeInfo `json:"attendee_info"`
}

// ConfirmBookingResponse represents a settled booking
type ConfirmBookingResponse struct {
	Booking        *BookingResponse `json:"booking"`
	AlreadySettled bool             `json:"already_settled"`
	MockMode       bool             `json:"mock_mode,omitempty"`
}

// ReleaseBookingResponse represents response after releasing or cancelling a booking
type ReleaseBookingResponse struct {
	BookingID      string `json:"booking_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	AvailableSeats *int   `json:"available_seats,omitempty"`
}

// PaymentResponse is the payment sub-record in API responses
type PaymentResponse struct {
	Provider  string     `json:"provider,omitempty"`
	PaymentID string     `json:"payment_id,omitempty"`
	OrderID   string     `json:"order_id,omitempty"`
	Method    string     `json:"method,omitempty"`
	Status    string     `json:"status"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID              string          `json:"id"`
	BookingCode     string          `json:"booking_code"`
	UserID          string          `json:"user_id"`
	EventID         string          `json:"event_id"`
	NumberOfTickets int             `json:"number_of_tickets"`
	TotalAmount     int64           `json:"total_amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	StatusReason    string          `json:"status_reason,omitempty"`
	HoldExpiry      *time.Time      `json:"hold_expiry,omitempty"`
	Payment         PaymentResponse `json:"payment"`
	AttendeeInfo    *AttendeeInfo   `json:"attendee_info,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AvailabilityResponse is the authoritative seat count of an event
type AvailabilityResponse struct {
	EventID        string `json:"event_id"`
	AvailableSeats int    `json:"available_seats"`
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:              b.ID,
		BookingCode:     b.BookingCode,
		UserID:          b.UserID,
		EventID:         b.EventID,
		NumberOfTickets: b.NumberOfTickets,
		TotalAmount:     b.TotalAmount,
		Currency:        b.Currency,
		Status:          b.Status.String(),
		StatusReason:    string(b.StatusReason),
		HoldExpiry:      b.HoldExpiry,
		Payment: PaymentResponse{
			Provider:  b.Payment.Provider,
			PaymentID: b.Payment.PaymentID,
			OrderID:   b.Payment.OrderID,
			Method:    b.Payment.Method,
			Status:    string(b.Payment.Status),
			PaidAt:    b.Payment.PaidAt,
		},
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if !b.Attendee.IsZero() {
		resp.AttendeeInfo = &AttendeeInfo{Name: b.Attendee.Name, Email: b.Attendee.Email, Phone: b.Attendee.Phone}
	}
	return resp
}

// FromDomainList converts a slice of bookings
func FromDomainList(bookings []*domain.Booking) []*BookingResponse {
	out := make([]*BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, FromDomain(b))
	}
	return out
}

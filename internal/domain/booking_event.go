package domain

import "time"

// BookingEventType is the type of a booking lifecycle event on the event stream
type BookingEventType string

const (
	BookingEventReserved  BookingEventType = "booking.reserved"
	BookingEventConfirmed BookingEventType = "booking.confirmed"
	BookingEventCancelled BookingEventType = "booking.cancelled"
	BookingEventExpired   BookingEventType = "booking.expired"
	BookingEventRefunded  BookingEventType = "booking.refunded"
)

// BookingEvent is the message published for every booking transition
type BookingEvent struct {
	EventID    string           `json:"event_id"`
	EventType  BookingEventType `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Version    int              `json:"version"`
	Data       BookingEventData `json:"data"`
}

// BookingEventData is a snapshot of the booking at publish time
type BookingEventData struct {
	BookingID       string        `json:"booking_id"`
	BookingCode     string        `json:"booking_code"`
	UserID          string        `json:"user_id"`
	EventID         string        `json:"event_id"`
	NumberOfTickets int           `json:"number_of_tickets"`
	TotalAmount     int64         `json:"total_amount"`
	Currency        string        `json:"currency"`
	Status          BookingStatus `json:"status"`
	StatusReason    StatusReason  `json:"status_reason,omitempty"`
	PaymentProvider string        `json:"payment_provider,omitempty"`
	PaymentID       string        `json:"payment_id,omitempty"`
	HoldExpiry      *time.Time    `json:"hold_expiry,omitempty"`
}

// NewBookingEvent builds a BookingEvent from a booking
func NewBookingEvent(eventType BookingEventType, booking *Booking, eventID string) *BookingEvent {
	return &BookingEvent{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Version:    1,
		Data: BookingEventData{
			BookingID:       booking.ID,
			BookingCode:     booking.BookingCode,
			UserID:          booking.UserID,
			EventID:         booking.EventID,
			NumberOfTickets: booking.NumberOfTickets,
			TotalAmount:     booking.TotalAmount,
			Currency:        booking.Currency,
			Status:          booking.Status,
			StatusReason:    booking.StatusReason,
			PaymentProvider: booking.Payment.Provider,
			PaymentID:       booking.Payment.PaymentID,
			HoldExpiry:      booking.HoldExpiry,
		},
	}
}

// Key partitions events by booking so one booking's history stays ordered
func (e *BookingEvent) Key() string {
	return e.Data.BookingID
}

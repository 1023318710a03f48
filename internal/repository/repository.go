package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
)

// InventoryLedger is the only writer of an event's held seat count.
// Every successful mutation returns the fresh available count.
type InventoryLedger interface {
	// Hold atomically adds n to held if held+n <= total, else ErrInsufficientCapacity
	Hold(ctx context.Context, eventID string, n int) (int, error)

	// Release subtracts n from held, clamped at zero
	Release(ctx context.Context, eventID string, n int) (int, error)

	// Available returns total - held for the event
	Available(ctx context.Context, eventID string) (int, error)
}

// EventRepository reads event capacity and pricing
type EventRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	Create(ctx context.Context, event *domain.Event) error
}

// BookingRepository persists bookings and guards every status change with a check-and-set
type BookingRepository interface {
	// Create inserts a new pending booking
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by its ID
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// ListByUser returns a user's bookings newest first
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error)

	// CountByUser returns the number of bookings owned by a user
	CountByUser(ctx context.Context, userID string) (int, error)

	// Transition moves a booking to `to` only if its current status is one of `from`
	Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*TransitionResult, error)

	// Confirm moves a pending booking with an unexpired hold to confirmed
	Confirm(ctx context.Context, id string, params ConfirmParams) (*TransitionResult, error)

	// AttachPaymentOrder records the provider order or intent created for a booking
	AttachPaymentOrder(ctx context.Context, id, provider, orderID string) error

	// FindByPaymentOrder locates a booking by provider order or intent id
	FindByPaymentOrder(ctx context.Context, provider, orderID string) (*domain.Booking, error)

	// MarkPaymentFailed flags the payment sub-record of a pending booking as failed
	MarkPaymentFailed(ctx context.Context, id, provider, paymentID string) error

	// ListExpiredPending returns pending bookings whose hold expired before now
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)
}

// SeatReleasingRepository moves a booking out of a seat-holding status and
// releases its seats as one unit of work. It is only usable when held seats
// are stored next to the bookings.
type SeatReleasingRepository interface {
	TransitionAndRelease(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*TransitionResult, int, error)
}

// HeldSeatCounter derives an event's held seats from its pending and confirmed bookings
type HeldSeatCounter interface {
	CountHeldSeats(ctx context.Context, eventID string) (int, error)
}

// TransitionResult reports whether a check-and-set was applied.
// Booking is the updated row when applied, otherwise the current row.
type TransitionResult struct {
	Applied bool
	Booking *domain.Booking
}

// ConfirmParams carries the verified payment proof written on confirmation
type ConfirmParams struct {
	Provider  string
	PaymentID string
	OrderID   string
	Method    string
	Attendee  domain.AttendeeInfo
	PaidAt    time.Time
}

// toInt64 converts Lua script results to int64
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

package domain

import (
	"time"
)

// PricingKind distinguishes free events from paid ones
type PricingKind string

const (
	PricingFree PricingKind = "free"
	PricingPaid PricingKind = "paid"
)

// EventStatus is the soft lifecycle of an event
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

// Event represents a sellable occasion with finite seating
type Event struct {
	ID          string      `json:"id"`
	OrganizerID string      `json:"organizer_id"`
	Title       string      `json:"title"`
	SeatsTotal  int         `json:"seats_total"`
	SeatsHeld   int         `json:"seats_held"`
	PricingKind PricingKind `json:"pricing_kind"`
	UnitAmount  int64       `json:"unit_amount"` // minor units
	Currency    string      `json:"currency"`
	Status      EventStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Available is always derived, never stored
func (e *Event) Available() int {
	if e.SeatsHeld >= e.SeatsTotal {
		return 0
	}
	return e.SeatsTotal - e.SeatsHeld
}

// IsFree returns true only for events priced as free. A paid event with a
// zero unit amount is not free.
func (e *Event) IsFree() bool {
	return e.PricingKind == PricingFree
}

// IsBookable returns true if seats can be reserved for the event
func (e *Event) IsBookable() bool {
	return e.Status == EventStatusPublished
}

// PriceFor returns the total amount for n tickets
func (e *Event) PriceFor(n int) int64 {
	if e.IsFree() {
		return 0
	}
	return e.UnitAmount * int64(n)
}

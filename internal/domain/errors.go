package domain

import "errors"

// Domain errors
var (
	// Booking errors
	ErrBookingNotFound    = errors.New("booking not found")
	ErrInvalidTransition  = errors.New("invalid booking status transition")
	ErrForbidden          = errors.New("not allowed to act on this booking")
	ErrBookingNotPending  = errors.New("booking is not pending")
	ErrBookingNotPayable  = errors.New("booking has no amount to pay")
	ErrPaymentOrderExists = errors.New("payment order already attached")

	// Capacity errors
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrNotEnoughSeats       = errors.New("not enough seats available")
	ErrMaxTicketsExceeded   = errors.New("maximum tickets per booking exceeded")

	// Validation errors
	ErrInvalidUserID       = errors.New("invalid user id")
	ErrInvalidBookingID    = errors.New("invalid booking id")
	ErrInvalidEventID      = errors.New("invalid event id")
	ErrInvalidQuantity     = errors.New("number of tickets must be greater than zero")
	ErrInvalidAttendeeInfo = errors.New("invalid attendee info")
	ErrInvalidPaymentProof = errors.New("invalid payment proof")
	ErrEventNotFree        = errors.New("event is not free")
	ErrEventNotBookable    = errors.New("event is not open for booking")

	// Event errors
	ErrEventNotFound = errors.New("event not found")

	// Settlement errors
	ErrSignatureMismatch   = errors.New("payment signature mismatch")
	ErrAmountMismatch      = errors.New("payment amount does not match booking total")
	ErrHoldExpired         = errors.New("seat hold has expired")
	ErrAlreadySettled      = errors.New("booking already settled")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrPaymentNotCaptured  = errors.New("payment has not completed")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidBookingID) ||
		errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidAttendeeInfo) ||
		errors.Is(err, ErrInvalidPaymentProof) ||
		errors.Is(err, ErrEventNotFree) ||
		errors.Is(err, ErrBookingNotPayable) ||
		errors.Is(err, ErrMaxTicketsExceeded)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInsufficientCapacity) ||
		errors.Is(err, ErrNotEnoughSeats) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrBookingNotPending) ||
		errors.Is(err, ErrEventNotBookable) ||
		errors.Is(err, ErrPaymentOrderExists)
}

// IsExpiredError checks if the error is an expiration error
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrHoldExpired)
}

// IsVerificationError checks if a payment proof was rejected
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrAmountMismatch)
}

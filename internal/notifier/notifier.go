package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"go.uber.org/zap"
)

// Confirmation is what a buyer is told once a booking is confirmed
type Confirmation struct {
	BookingID       string
	BookingCode     string
	Name            string
	Email           string
	Phone           string
	EventTitle      string
	NumberOfTickets int
	TotalAmount     int64
	Currency        string
}

// FormattedAmount renders minor units as a decimal amount with currency
func (c Confirmation) FormattedAmount() string {
	if c.TotalAmount == 0 {
		return "Free"
	}
	return fmt.Sprintf("%s %d.%02d", strings.ToUpper(c.Currency), c.TotalAmount/100, c.TotalAmount%100)
}

// Notifier delivers booking confirmations to the buyer
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, c Confirmation) error
}

// NoOpNotifier logs and does nothing
type NoOpNotifier struct {
	channel string
}

// NewNoOpNotifier creates a no-op notifier for the named channel
func NewNoOpNotifier(channel string) *NoOpNotifier {
	return &NoOpNotifier{channel: channel}
}

// NotifyBookingConfirmed logs the would-be notification
func (n *NoOpNotifier) NotifyBookingConfirmed(ctx context.Context, c Confirmation) error {
	logger.Get().Debug("notification skipped (noop)",
		zap.String("channel", n.channel),
		zap.String("booking_code", c.BookingCode),
	)
	return nil
}

// MultiNotifier fans a confirmation out to every channel. Failures are
// logged and never returned: a booking is confirmed regardless of delivery.
type MultiNotifier struct {
	notifiers []Notifier
	timeout   time.Duration
}

// NewMultiNotifier creates a notifier that calls each of notifiers
func NewMultiNotifier(timeout time.Duration, notifiers ...Notifier) *MultiNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MultiNotifier{notifiers: notifiers, timeout: timeout}
}

// NotifyBookingConfirmed sends to all channels and swallows errors
func (m *MultiNotifier) NotifyBookingConfirmed(ctx context.Context, c Confirmation) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	var errs []error
	for _, n := range m.notifiers {
		if err := n.NotifyBookingConfirmed(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Get().Warn("booking confirmation notification failed",
			zap.String("booking_id", c.BookingID),
			zap.String("booking_code", c.BookingCode),
			zap.Error(err),
		)
	}
	return nil
}

var (
	_ Notifier = (*NoOpNotifier)(nil)
	_ Notifier = (*MultiNotifier)(nil)
)

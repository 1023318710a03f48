package notifier

import (
	"context"
	"time"

	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/retry"
	"go.uber.org/zap"
)

// RetryingNotifier retries a channel's transient failures with backoff.
// Channels mark unfixable failures with retry.Permanent.
type RetryingNotifier struct {
	channel string
	next    Notifier
	retrier *retry.Retrier
}

// NewRetryingNotifier wraps next. A nil config uses retry.DefaultConfig.
func NewRetryingNotifier(channel string, next Notifier, config *retry.Config) *RetryingNotifier {
	return &RetryingNotifier{
		channel: channel,
		next:    next,
		retrier: retry.New(config, func(attempt int, err error, wait time.Duration) {
			logger.Get().Warn("notification failed, retrying",
				zap.String("channel", channel),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	}
}

// NotifyBookingConfirmed delivers through the wrapped channel
func (n *RetryingNotifier) NotifyBookingConfirmed(ctx context.Context, c Confirmation) error {
	return n.retrier.Do(ctx, func(ctx context.Context) error {
		return n.next.NotifyBookingConfirmed(ctx, c)
	})
}

var _ Notifier = (*RetryingNotifier)(nil)

package di

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/eventhub-booking/internal/broadcast"
	"github.com/prohmpiriya/eventhub-booking/internal/gateway"
	"github.com/prohmpiriya/eventhub-booking/internal/notifier"
	"github.com/prohmpiriya/eventhub-booking/internal/service"
	"github.com/prohmpiriya/eventhub-booking/pkg/config"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	pkgredis "github.com/prohmpiriya/eventhub-booking/pkg/redis"
	"go.uber.org/zap"
)

// Gateways holds the configured payment providers. Either may be nil.
type Gateways struct {
	Order  gateway.OrderGateway
	Intent gateway.IntentGateway
}

// NewGateways builds a gateway for every provider that has credentials.
// Outside production a provider left unconfigured is served by one shared
// MockGateway so checkout still works end to end.
func NewGateways(cfg *config.Config) (*Gateways, error) {
	gws := &Gateways{}

	if cfg.Payment.Razorpay.Enabled() {
		rzp, err := gateway.NewRazorpayGateway(&gateway.RazorpayGatewayConfig{
			KeyID:         cfg.Payment.Razorpay.KeyID,
			KeySecret:     cfg.Payment.Razorpay.KeySecret,
			WebhookSecret: cfg.Payment.Razorpay.WebhookSecret,
			BaseURL:       cfg.Payment.Razorpay.BaseURL,
			Timeout:       cfg.Payment.ProviderTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create razorpay gateway: %w", err)
		}
		gws.Order = rzp
	}

	if cfg.Payment.Stripe.Enabled() {
		stp, err := gateway.NewStripeGateway(&gateway.StripeGatewayConfig{
			SecretKey:      cfg.Payment.Stripe.SecretKey,
			PublishableKey: cfg.Payment.Stripe.PublishableKey,
			WebhookSecret:  cfg.Payment.Stripe.WebhookSecret,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stripe gateway: %w", err)
		}
		gws.Intent = stp
	}

	if cfg.MockPaymentsAllowed() && (gws.Order == nil || gws.Intent == nil) {
		mock := gateway.NewMockGateway(nil)
		if gws.Order == nil {
			gws.Order = mock.AsOrderGateway()
		}
		if gws.Intent == nil {
			gws.Intent = mock
		}
		logger.Get().Warn("payment provider not configured, using mock gateway",
			zap.String("order", gws.Order.Name()),
			zap.String("intent", gws.Intent.Name()),
		)
	}

	return gws, nil
}

// NewNotifier fans confirmations out to the configured email and SMS channels
func NewNotifier(cfg *config.Config) (notifier.Notifier, error) {
	var email notifier.Notifier = notifier.NewNoOpNotifier("email")
	if cfg.Notify.Email.Provider == "ses" {
		ses, err := notifier.NewSESEmailNotifier(&notifier.SESConfig{
			Region:          cfg.Notify.Email.SESRegion,
			AccessKeyID:     cfg.Notify.Email.AccessKeyID,
			SecretAccessKey: cfg.Notify.Email.SecretAccessKey,
			FromAddress:     cfg.Notify.Email.FromAddress,
			FromName:        cfg.Notify.Email.FromName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ses notifier: %w", err)
		}
		email = notifier.NewRetryingNotifier("email", ses, nil)
	}

	var sms notifier.Notifier = notifier.NewNoOpNotifier("sms")
	if cfg.Notify.SMS.Provider == "twilio" {
		twilio, err := notifier.NewTwilioSMSNotifier(&notifier.TwilioConfig{
			AccountSID: cfg.Notify.SMS.AccountSID,
			AuthToken:  cfg.Notify.SMS.AuthToken,
			FromNumber: cfg.Notify.SMS.FromNumber,
			BaseURL:    cfg.Notify.SMS.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create twilio notifier: %w", err)
		}
		sms = notifier.NewRetryingNotifier("sms", twilio, nil)
	}

	return notifier.NewMultiNotifier(0, email, sms), nil
}

// NewEventPublisher connects to Kafka, or returns a no-op publisher when no
// brokers are configured or the connection fails
func NewEventPublisher(ctx context.Context, cfg *config.Config) service.EventPublisher {
	log := logger.Get()
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, booking events will not be published")
		return service.NewNoOpEventPublisher()
	}

	publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.BookingTopic,
		ServiceName: cfg.App.Name,
		ClientID:    cfg.Kafka.ClientID,
	})
	if err != nil {
		log.Warn("kafka connection failed, using no-op publisher", zap.Error(err))
		return service.NewNoOpEventPublisher()
	}

	log.Info("kafka event publisher connected", zap.Strings("brokers", cfg.Kafka.Brokers))
	return publisher
}

// Broadcast is the availability fan-out: Publisher sends to every instance,
// Relay feeds this instance's hub until ctx is done.
type Broadcast struct {
	Publisher broadcast.Broadcaster
	Relay     func(ctx context.Context) error
}

// NewBroadcast selects the cross-instance transport. "none" and a failed
// NATS connection both fall back to the in-process hub.
func NewBroadcast(cfg *config.Config, redisClient *pkgredis.Client, hub *broadcast.Hub) *Broadcast {
	log := logger.Get()
	local := &Broadcast{
		Publisher: broadcast.NewLocalBroadcaster(hub),
		Relay:     func(ctx context.Context) error { return nil },
	}

	switch cfg.Broadcast.Driver {
	case "redis":
		if redisClient == nil {
			log.Warn("redis broadcast selected without a redis client, using in-process hub")
			return local
		}
		return &Broadcast{
			Publisher: broadcast.NewRedisBroadcaster(redisClient),
			Relay: func(ctx context.Context) error {
				return broadcast.RunRedisRelay(ctx, redisClient, hub)
			},
		}
	case "nats":
		nb, err := broadcast.NewNATSBroadcaster(&broadcast.NATSConfig{
			URL:       cfg.Broadcast.NATSURL,
			ClusterID: cfg.Broadcast.NATSClusterID,
			ClientID:  cfg.Broadcast.NATSClientID,
		})
		if err != nil {
			log.Warn("nats connection failed, using in-process hub", zap.Error(err))
			return local
		}
		return &Broadcast{
			Publisher: nb,
			Relay: func(ctx context.Context) error {
				if err := nb.Relay(hub); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			},
		}
	default:
		return local
	}
}

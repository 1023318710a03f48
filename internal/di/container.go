package di

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/eventhub-booking/internal/broadcast"
	"github.com/prohmpiriya/eventhub-booking/internal/handler"
	"github.com/prohmpiriya/eventhub-booking/internal/notifier"
	"github.com/prohmpiriya/eventhub-booking/internal/repository"
	"github.com/prohmpiriya/eventhub-booking/internal/service"
	"github.com/prohmpiriya/eventhub-booking/internal/worker"
	"github.com/prohmpiriya/eventhub-booking/pkg/config"
	pkgredis "github.com/prohmpiriya/eventhub-booking/pkg/redis"
)

// Container holds all dependencies for the booking service
type Container struct {
	// Infrastructure
	Pool  *pgxpool.Pool
	Redis *pkgredis.Client
	Hub   *broadcast.Hub

	// Repositories
	EventRepo   repository.EventRepository
	BookingRepo repository.BookingRepository
	Ledger      repository.InventoryLedger

	// Services
	ReservationService service.ReservationService
	BookingService     service.BookingService
	SettlementService  service.SettlementService
	Tasks              *service.BackgroundTasks

	// Handlers
	BookingHandler *handler.BookingHandler
	PaymentHandler *handler.PaymentHandler
	WebhookHandler *handler.WebhookHandler
	StreamHandler  *handler.StreamHandler
	HealthHandler  *handler.HealthHandler

	// Workers
	ExpiryWorker *worker.ExpiryWorker
}

// ContainerConfig contains configuration for building the container.
// Redis may be nil only when neither the ledger nor the deduper needs it.
type ContainerConfig struct {
	Config         *config.Config
	Pool           *pgxpool.Pool
	Redis          *pkgredis.Client
	Hub            *broadcast.Hub
	Broadcaster    broadcast.Broadcaster
	EventPublisher service.EventPublisher
	Gateways       *Gateways
	Notifier       notifier.Notifier
	HealthChecks   map[string]handler.Checker
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	gws := cfg.Gateways
	if gws == nil {
		gws = &Gateways{}
	}

	c := &Container{
		Pool:  cfg.Pool,
		Redis: cfg.Redis,
		Hub:   cfg.Hub,
	}

	// Initialize repositories
	bookingRepo := repository.NewPostgresBookingRepository(cfg.Pool)
	c.EventRepo = repository.NewPostgresEventRepository(cfg.Pool)
	c.BookingRepo = bookingRepo

	switch appCfg.Ledger.Driver {
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis ledger requires a redis client")
		}
		ledger := repository.NewRedisInventoryLedger(cfg.Redis, c.EventRepo, bookingRepo)
		if err := ledger.LoadScripts(ctx); err != nil {
			return nil, fmt.Errorf("failed to load ledger scripts: %w", err)
		}
		c.Ledger = ledger
	default:
		c.Ledger = repository.NewPostgresInventoryLedger(cfg.Pool)
	}

	var deduper service.WebhookDeduper = service.NewMemoryWebhookDeduper()
	if cfg.Redis != nil {
		deduper = service.NewRedisWebhookDeduper(cfg.Redis, 0)
	}

	c.Tasks = service.NewBackgroundTasks(&service.BackgroundTasksConfig{
		Limit:   appCfg.Booking.BackgroundTaskLimit,
		Timeout: appCfg.Booking.BackgroundTaskTimeout,
	})

	// Initialize services. The postgres ledger keeps seats_held next to the
	// bookings, so cancellations can release in the same transaction.
	c.ReservationService = service.NewReservationService(
		c.Ledger,
		c.EventRepo,
		c.BookingRepo,
		cfg.Broadcaster,
		cfg.EventPublisher,
		&service.ReservationServiceConfig{
			HoldTTL:              appCfg.Booking.HoldTTL,
			MaxTicketsPerBooking: appCfg.Booking.MaxTicketsPerBooking,
			DefaultCurrency:      appCfg.Booking.DefaultCurrency,
			Tasks:                c.Tasks,
			AtomicRelease:        appCfg.Ledger.Driver != "redis",
		},
	)

	c.BookingService = service.NewBookingService(
		c.BookingRepo,
		c.ReservationService,
		gws.Order,
		gws.Intent,
		nil,
	)

	c.SettlementService = service.NewSettlementService(service.SettlementDeps{
		BookingRepo:    c.BookingRepo,
		EventRepo:      c.EventRepo,
		Reservations:   c.ReservationService,
		OrderGateway:   gws.Order,
		IntentGateway:  gws.Intent,
		Notifier:       cfg.Notifier,
		EventPublisher: cfg.EventPublisher,
		Deduper:        deduper,
		Tasks:          c.Tasks,
	}, &service.SettlementServiceConfig{
		ProviderTimeout: appCfg.Payment.ProviderTimeout,
	})

	// Initialize handlers
	c.BookingHandler = handler.NewBookingHandler(c.ReservationService, c.BookingService, c.SettlementService)
	c.PaymentHandler = handler.NewPaymentHandler(c.SettlementService)
	c.WebhookHandler = handler.NewWebhookHandler(c.SettlementService, gws.Order, gws.Intent)
	c.StreamHandler = handler.NewStreamHandler(c.Hub, c.ReservationService, 0)
	c.HealthHandler = handler.NewHealthHandler(appCfg.App.Name, cfg.HealthChecks)

	// Initialize workers
	c.ExpiryWorker = worker.NewExpiryWorker(c.ReservationService, &worker.ExpiryWorkerConfig{
		ScanInterval: appCfg.Booking.SweepInterval,
		BatchSize:    appCfg.Booking.SweepBatchSize,
	})

	return c, nil
}

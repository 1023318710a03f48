package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-outside-development"

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OTel      OTelConfig      `mapstructure:"otel"`
	Booking   BookingConfig   `mapstructure:"booking"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings.
// An empty broker list disables event publishing.
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ClientID     string   `mapstructure:"client_id"`
	BookingTopic string   `mapstructure:"booking_topic"`
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// BookingConfig holds reservation and hold-expiry settings
type BookingConfig struct {
	HoldTTL              time.Duration `mapstructure:"hold_ttl"`
	MaxTicketsPerBooking int           `mapstructure:"max_tickets_per_booking"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize       int           `mapstructure:"sweep_batch_size"`
	DefaultCurrency      string        `mapstructure:"default_currency"`

	// BackgroundTaskLimit caps broadcasts, publishes and notifications in flight
	BackgroundTaskLimit   int           `mapstructure:"background_task_limit"`
	BackgroundTaskTimeout time.Duration `mapstructure:"background_task_timeout"`
}

// LedgerConfig selects the inventory ledger backend: "postgres" or "redis"
type LedgerConfig struct {
	Driver string `mapstructure:"driver"`
}

// PaymentConfig holds payment provider credentials
type PaymentConfig struct {
	Razorpay        RazorpayConfig `mapstructure:"razorpay"`
	Stripe          StripeConfig   `mapstructure:"stripe"`
	ProviderTimeout time.Duration  `mapstructure:"provider_timeout"`
}

// RazorpayConfig holds order-path provider settings
type RazorpayConfig struct {
	KeyID         string `mapstructure:"key_id"`
	KeySecret     string `mapstructure:"key_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

// Enabled reports whether the order-path provider is configured
func (r *RazorpayConfig) Enabled() bool {
	return r.KeyID != "" && r.KeySecret != ""
}

// StripeConfig holds intent-path provider settings
type StripeConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	PublishableKey string `mapstructure:"publishable_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
}

// Enabled reports whether the intent-path provider is configured
func (s *StripeConfig) Enabled() bool {
	return s.SecretKey != ""
}

// NotifyConfig holds notifier settings
type NotifyConfig struct {
	Email EmailConfig `mapstructure:"email"`
	SMS   SMSConfig   `mapstructure:"sms"`
}

// EmailConfig holds email notifier settings. Provider is "ses" or "noop".
type EmailConfig struct {
	Provider        string `mapstructure:"provider"`
	FromAddress     string `mapstructure:"from_address"`
	FromName        string `mapstructure:"from_name"`
	SESRegion       string `mapstructure:"ses_region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// SMSConfig holds SMS notifier settings. Provider is "twilio" or "noop".
type SMSConfig struct {
	Provider   string `mapstructure:"provider"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
	BaseURL    string `mapstructure:"base_url"`
}

// BroadcastConfig selects the availability broadcast transport: "redis", "nats" or "none"
type BroadcastConfig struct {
	Driver        string `mapstructure:"driver"`
	NATSURL       string `mapstructure:"nats_url"`
	NATSClusterID string `mapstructure:"nats_cluster_id"`
	NATSClientID  string `mapstructure:"nats_client_id"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "eventhub-booking")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8083)
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "eventhub")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_CLIENT_ID", "eventhub-booking")
	v.SetDefault("KAFKA_BOOKING_TOPIC", "booking-events")

	// JWT defaults
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "eventhub")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "eventhub-booking")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Booking defaults
	v.SetDefault("BOOKING_HOLD_TTL", "10m")
	v.SetDefault("BOOKING_MAX_TICKETS_PER_BOOKING", 10)
	v.SetDefault("BOOKING_SWEEP_INTERVAL", "30s")
	v.SetDefault("BOOKING_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("BOOKING_DEFAULT_CURRENCY", "INR")
	v.SetDefault("BOOKING_BACKGROUND_TASK_LIMIT", 512)
	v.SetDefault("BOOKING_BACKGROUND_TASK_TIMEOUT", "10s")

	v.SetDefault("LEDGER_DRIVER", "postgres")

	// Payment defaults
	v.SetDefault("PAYMENT_RAZORPAY_BASE_URL", "https://api.razorpay.com")
	v.SetDefault("PAYMENT_PROVIDER_TIMEOUT", "10s")

	// Notifier defaults
	v.SetDefault("NOTIFY_EMAIL_PROVIDER", "noop")
	v.SetDefault("NOTIFY_EMAIL_FROM_ADDRESS", "no-reply@eventhub.local")
	v.SetDefault("NOTIFY_EMAIL_FROM_NAME", "EventHub")
	v.SetDefault("NOTIFY_EMAIL_SES_REGION", "ap-south-1")
	v.SetDefault("NOTIFY_SMS_PROVIDER", "noop")

	// Broadcast defaults
	v.SetDefault("BROADCAST_DRIVER", "redis")
	v.SetDefault("BROADCAST_NATS_URL", "nats://localhost:4222")
	v.SetDefault("BROADCAST_NATS_CLUSTER_ID", "eventhub")
	v.SetDefault("BROADCAST_NATS_CLIENT_ID", "eventhub-booking")
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.BookingTopic = v.GetString("KAFKA_BOOKING_TOPIC")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Booking
	cfg.Booking.HoldTTL = v.GetDuration("BOOKING_HOLD_TTL")
	cfg.Booking.MaxTicketsPerBooking = v.GetInt("BOOKING_MAX_TICKETS_PER_BOOKING")
	cfg.Booking.SweepInterval = v.GetDuration("BOOKING_SWEEP_INTERVAL")
	cfg.Booking.SweepBatchSize = v.GetInt("BOOKING_SWEEP_BATCH_SIZE")
	cfg.Booking.DefaultCurrency = v.GetString("BOOKING_DEFAULT_CURRENCY")
	cfg.Booking.BackgroundTaskLimit = v.GetInt("BOOKING_BACKGROUND_TASK_LIMIT")
	cfg.Booking.BackgroundTaskTimeout = v.GetDuration("BOOKING_BACKGROUND_TASK_TIMEOUT")

	cfg.Ledger.Driver = v.GetString("LEDGER_DRIVER")

	// Payment
	cfg.Payment.Razorpay.KeyID = v.GetString("PAYMENT_RAZORPAY_KEY_ID")
	cfg.Payment.Razorpay.KeySecret = v.GetString("PAYMENT_RAZORPAY_KEY_SECRET")
	cfg.Payment.Razorpay.WebhookSecret = v.GetString("PAYMENT_RAZORPAY_WEBHOOK_SECRET")
	cfg.Payment.Razorpay.BaseURL = v.GetString("PAYMENT_RAZORPAY_BASE_URL")
	cfg.Payment.Stripe.SecretKey = v.GetString("PAYMENT_STRIPE_SECRET_KEY")
	cfg.Payment.Stripe.PublishableKey = v.GetString("PAYMENT_STRIPE_PUBLISHABLE_KEY")
	cfg.Payment.Stripe.WebhookSecret = v.GetString("PAYMENT_STRIPE_WEBHOOK_SECRET")
	cfg.Payment.ProviderTimeout = v.GetDuration("PAYMENT_PROVIDER_TIMEOUT")

	// Notifiers
	cfg.Notify.Email.Provider = v.GetString("NOTIFY_EMAIL_PROVIDER")
	cfg.Notify.Email.FromAddress = v.GetString("NOTIFY_EMAIL_FROM_ADDRESS")
	cfg.Notify.Email.FromName = v.GetString("NOTIFY_EMAIL_FROM_NAME")
	cfg.Notify.Email.SESRegion = v.GetString("NOTIFY_EMAIL_SES_REGION")
	cfg.Notify.Email.AccessKeyID = v.GetString("NOTIFY_EMAIL_ACCESS_KEY_ID")
	cfg.Notify.Email.SecretAccessKey = v.GetString("NOTIFY_EMAIL_SECRET_ACCESS_KEY")
	cfg.Notify.SMS.Provider = v.GetString("NOTIFY_SMS_PROVIDER")
	cfg.Notify.SMS.AccountSID = v.GetString("NOTIFY_SMS_ACCOUNT_SID")
	cfg.Notify.SMS.AuthToken = v.GetString("NOTIFY_SMS_AUTH_TOKEN")
	cfg.Notify.SMS.FromNumber = v.GetString("NOTIFY_SMS_FROM_NUMBER")
	cfg.Notify.SMS.BaseURL = v.GetString("NOTIFY_SMS_BASE_URL")

	// Broadcast
	cfg.Broadcast.Driver = v.GetString("BROADCAST_DRIVER")
	cfg.Broadcast.NATSURL = v.GetString("BROADCAST_NATS_URL")
	cfg.Broadcast.NATSClusterID = v.GetString("BROADCAST_NATS_CLUSTER_ID")
	cfg.Broadcast.NATSClientID = v.GetString("BROADCAST_NATS_CLIENT_ID")

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("booking hold TTL must be positive")
	}

	if c.Booking.MaxTicketsPerBooking < 1 {
		return fmt.Errorf("max tickets per booking must be at least 1")
	}

	switch c.Ledger.Driver {
	case "postgres", "redis":
	default:
		return fmt.Errorf("unknown ledger driver: %q", c.Ledger.Driver)
	}

	switch c.Broadcast.Driver {
	case "redis", "nats", "none":
	default:
		return fmt.Errorf("unknown broadcast driver: %q", c.Broadcast.Driver)
	}

	if c.Payment.Razorpay.Enabled() && c.Payment.Razorpay.BaseURL == "" {
		return fmt.Errorf("PAYMENT_RAZORPAY_BASE_URL is required when razorpay is configured")
	}

	return nil
}

// MockPaymentsAllowed reports whether settlement may fall back to mock
// confirmation when a provider is not configured
func (c *Config) MockPaymentsAllowed() bool {
	return !c.IsProduction()
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

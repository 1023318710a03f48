package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Nil is returned by reads of missing keys
const Nil = redis.Nil

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Connect controls how often the initial PING is retried
	Connect *retry.Config
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Connect: &retry.Config{
			MaxRetries:      3,
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
		},
	}
}

// Addr returns the Redis address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Client wraps redis.Client with a registry of named Lua scripts. The
// seat ledger and the webhook deduper share one pool through it.
type Client struct {
	client  *redis.Client
	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewClient connects and pings Redis, backing off between failed attempts
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	retrier := retry.New(cfg.Connect, func(attempt int, err error, wait time.Duration) {
		logger.Get().Warn("redis not reachable yet",
			zap.String("addr", cfg.Addr()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err := retrier.Do(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	return &Client{client: client, scripts: make(map[string]*redis.Script)}, nil
}

// Client returns the underlying redis.Client
func (c *Client) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck pings Redis with a bounded timeout
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// script returns the registered script for name, registering src if needed
func (c *Client) script(name, src string) *redis.Script {
	c.mu.RLock()
	s, ok := c.scripts[name]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.scripts[name]; !ok {
		s = redis.NewScript(src)
		c.scripts[name] = s
	}
	return s
}

// LoadScript registers a Lua script under name and preloads it on the server
func (c *Client) LoadScript(ctx context.Context, name, src string) error {
	if err := c.script(name, src).Load(ctx, c.client).Err(); err != nil {
		return fmt.Errorf("failed to load script %s: %w", name, err)
	}
	return nil
}

// RunScript executes a named script by SHA. A server that lost its script
// cache gets the source resent.
func (c *Client) RunScript(ctx context.Context, name, src string, keys []string, args ...interface{}) *redis.Cmd {
	return c.script(name, src).Run(ctx, c.client, keys, args...)
}

// Get gets a value by key
func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	return c.client.Get(ctx, key)
}

// Set sets a value with optional expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return c.client.Set(ctx, key, value, expiration)
}

// SetNX sets a value only if key doesn't exist
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return c.client.SetNX(ctx, key, value, expiration)
}

// Del deletes keys
func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return c.client.Del(ctx, keys...)
}

// HGetAll gets all fields in a hash
func (c *Client) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return c.client.HGetAll(ctx, key)
}

// Publish posts a message to a channel
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	return c.client.Publish(ctx, channel, message)
}

// PSubscribe subscribes to channels matching the given patterns
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.client.PSubscribe(ctx, patterns...)
}

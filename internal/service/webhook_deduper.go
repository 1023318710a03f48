package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/prohmpiriya/eventhub-booking/pkg/redis"
)

const defaultWebhookDedupeTTL = 24 * time.Hour

// WebhookDeduper remembers processed provider event ids
type WebhookDeduper interface {
	// Claim returns true the first time a provider event id is seen
	Claim(ctx context.Context, provider, eventID string) (bool, error)

	// Forget drops a claim so a failed delivery can be retried by the provider
	Forget(ctx context.Context, provider, eventID string) error
}

// RedisWebhookDeduper stores claims as webhook:<provider>:<eventId> with a TTL
type RedisWebhookDeduper struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisWebhookDeduper creates a new Redis-backed deduper
func NewRedisWebhookDeduper(client *pkgredis.Client, ttl time.Duration) *RedisWebhookDeduper {
	if ttl <= 0 {
		ttl = defaultWebhookDedupeTTL
	}
	return &RedisWebhookDeduper{client: client, ttl: ttl}
}

func webhookKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

// Claim sets the key only if absent
func (d *RedisWebhookDeduper) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, webhookKey(provider, eventID), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook %s: %w", eventID, err)
	}
	return ok, nil
}

// Forget deletes the claim
func (d *RedisWebhookDeduper) Forget(ctx context.Context, provider, eventID string) error {
	if err := d.client.Del(ctx, webhookKey(provider, eventID)).Err(); err != nil {
		return fmt.Errorf("failed to forget webhook %s: %w", eventID, err)
	}
	return nil
}

// MemoryWebhookDeduper keeps claims in process memory; used when Redis is not wired
type MemoryWebhookDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryWebhookDeduper creates a new in-memory deduper
func NewMemoryWebhookDeduper() *MemoryWebhookDeduper {
	return &MemoryWebhookDeduper{seen: make(map[string]struct{})}
}

// Claim records the id if new
func (d *MemoryWebhookDeduper) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := webhookKey(provider, eventID)
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

// Forget removes the id
func (d *MemoryWebhookDeduper) Forget(ctx context.Context, provider, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, webhookKey(provider, eventID))
	return nil
}

var (
	_ WebhookDeduper = (*RedisWebhookDeduper)(nil)
	_ WebhookDeduper = (*MemoryWebhookDeduper)(nil)
)

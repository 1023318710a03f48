package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	pkgredis "github.com/prohmpiriya/eventhub-booking/pkg/redis"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

//go:embed scripts/hold_seats.lua
var holdSeatsScript string

//go:embed scripts/release_seats.lua
var releaseSeatsScript string

//go:embed scripts/sync_capacity.lua
var syncCapacityScript string

// Script names for caching
const (
	scriptHoldSeats    = "hold_seats"
	scriptReleaseSeats = "release_seats"
	scriptSyncCapacity = "sync_capacity"
)

// Lua error codes
const (
	codeEventNotFound        = "EVENT_NOT_FOUND"
	codeInsufficientCapacity = "INSUFFICIENT_CAPACITY"
	codeInvalidQuantity      = "INVALID_QUANTITY"
)

// RedisInventoryLedger keeps an event's capacity in a Redis hash and mutates
// it with Lua scripts. A missing hash is seeded with the event's total and a
// held count summed from its pending and confirmed bookings, so losing Redis
// state never forgets a live hold.
type RedisInventoryLedger struct {
	client *pkgredis.Client
	events EventRepository
	holds  HeldSeatCounter
}

// NewRedisInventoryLedger creates a new RedisInventoryLedger
func NewRedisInventoryLedger(client *pkgredis.Client, events EventRepository, holds HeldSeatCounter) *RedisInventoryLedger {
	return &RedisInventoryLedger{client: client, events: events, holds: holds}
}

func ledgerKey(eventID string) string {
	return fmt.Sprintf("ledger:event:%s", eventID)
}

// LoadScripts loads all Lua scripts into Redis
func (l *RedisInventoryLedger) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptHoldSeats:    holdSeatsScript,
		scriptReleaseSeats: releaseSeatsScript,
		scriptSyncCapacity: syncCapacityScript,
	}

	for name, script := range scripts {
		if err := l.client.LoadScript(ctx, name, script); err != nil {
			return err
		}
	}

	return nil
}

// ledgerResult is the parsed reply of a ledger script
type ledgerResult struct {
	Success   bool
	Available int64
	Held      int64
	// Seeded is set by the sync script when this call created the held count
	Seeded    bool
	ErrorCode string
	Message   string
}

func (l *RedisInventoryLedger) eval(ctx context.Context, name, script, eventID string, args ...interface{}) (*ledgerResult, error) {
	result := l.client.RunScript(ctx, name, script, []string{ledgerKey(eventID)}, args...)
	if result.Err() != nil {
		return nil, fmt.Errorf("failed to execute %s script: %w", name, result.Err())
	}

	values, err := result.Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to parse script result: %w", err)
	}
	return parseLedgerResult(values)
}

func parseLedgerResult(values []interface{}) (*ledgerResult, error) {
	if len(values) < 3 {
		return nil, fmt.Errorf("unexpected script result length: %d", len(values))
	}

	success, _ := toInt64(values[0])
	if success == 1 {
		available, _ := toInt64(values[1])
		held, _ := toInt64(values[2])
		res := &ledgerResult{Success: true, Available: available, Held: held}
		if len(values) > 3 {
			seeded, _ := toInt64(values[3])
			res.Seeded = seeded == 1
		}
		return res, nil
	}

	errorCode, _ := values[1].(string)
	message, _ := values[2].(string)
	return &ledgerResult{ErrorCode: errorCode, Message: message}, nil
}

// Hold reserves n seats; a cold hash is seeded from the event store and the hold retried once
func (l *RedisInventoryLedger) Hold(ctx context.Context, eventID string, n int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.hold")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.Int("quantity", n),
	)

	res, err := l.eval(ctx, scriptHoldSeats, holdSeatsScript, eventID, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if !res.Success && res.ErrorCode == codeEventNotFound {
		if err := l.SyncCapacity(ctx, eventID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
		res, err = l.eval(ctx, scriptHoldSeats, holdSeatsScript, eventID, n)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
	}

	if !res.Success {
		span.SetAttributes(attribute.String("error_code", res.ErrorCode))
		span.SetStatus(codes.Error, res.ErrorCode)
		return 0, ledgerError(res.ErrorCode)
	}

	span.SetAttributes(attribute.Int64("available_seats", res.Available))
	span.SetStatus(codes.Ok, "")
	return int(res.Available), nil
}

// Release returns n seats, clamped so held never goes negative. Callers release
// after the booking has left the seat-holding states, so when a cold hash is
// seeded here the recount already excludes the n seats and nothing is subtracted.
func (l *RedisInventoryLedger) Release(ctx context.Context, eventID string, n int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.release")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.Int("quantity", n),
	)

	res, err := l.eval(ctx, scriptReleaseSeats, releaseSeatsScript, eventID, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if !res.Success && res.ErrorCode == codeEventNotFound {
		seed, err := l.seed(ctx, eventID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
		span.SetAttributes(attribute.Bool("seeded", seed.Seeded))
		res = seed
		// another caller seeded first, possibly counting these seats
		if !seed.Seeded {
			res, err = l.eval(ctx, scriptReleaseSeats, releaseSeatsScript, eventID, n)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return 0, err
			}
		}
	}

	if !res.Success {
		span.SetStatus(codes.Error, res.ErrorCode)
		return 0, ledgerError(res.ErrorCode)
	}

	span.SetAttributes(attribute.Int64("available_seats", res.Available))
	span.SetStatus(codes.Ok, "")
	return int(res.Available), nil
}

// Available reads total - held from the hash, seeding it if cold
func (l *RedisInventoryLedger) Available(ctx context.Context, eventID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.available")
	defer span.End()

	values, err := l.client.HGetAll(ctx, ledgerKey(eventID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to read capacity: %w", err)
	}

	if _, ok := values["total"]; !ok {
		if err := l.SyncCapacity(ctx, eventID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
		values, err = l.client.HGetAll(ctx, ledgerKey(eventID)).Result()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("failed to read capacity: %w", err)
		}
	}

	total, _ := toInt64(values["total"])
	held, _ := toInt64(values["held"])
	available := total - held
	if available < 0 {
		available = 0
	}

	span.SetStatus(codes.Ok, "")
	return int(available), nil
}

// SyncCapacity seeds the Redis hash from the event store and the live bookings.
// An existing held count is left alone.
func (l *RedisInventoryLedger) SyncCapacity(ctx context.Context, eventID string) error {
	_, err := l.seed(ctx, eventID)
	return err
}

func (l *RedisInventoryLedger) seed(ctx context.Context, eventID string) (*ledgerResult, error) {
	event, err := l.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	held, err := l.holds.CountHeldSeats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if held > event.SeatsTotal {
		held = event.SeatsTotal
	}

	res, err := l.eval(ctx, scriptSyncCapacity, syncCapacityScript, eventID, event.SeatsTotal, held)
	if err != nil {
		return nil, err
	}
	if res.Seeded {
		logger.Get().Info("ledger seeded",
			zap.String("event_id", eventID),
			zap.Int("total", event.SeatsTotal),
			zap.Int("held", held),
		)
	}
	return res, nil
}

func ledgerError(code string) error {
	switch code {
	case codeInsufficientCapacity:
		return domain.ErrInsufficientCapacity
	case codeEventNotFound:
		return domain.ErrEventNotFound
	case codeInvalidQuantity:
		return domain.ErrInvalidQuantity
	default:
		return fmt.Errorf("ledger script failed: %s", code)
	}
}

var _ InventoryLedger = (*RedisInventoryLedger)(nil)

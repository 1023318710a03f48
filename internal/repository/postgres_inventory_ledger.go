package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresInventoryLedger keeps held seats on the events row and mutates them
// with a single guarded UPDATE
type PostgresInventoryLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresInventoryLedger creates a new PostgresInventoryLedger
func NewPostgresInventoryLedger(pool *pgxpool.Pool) *PostgresInventoryLedger {
	return &PostgresInventoryLedger{pool: pool}
}

// Hold increments seats_held by n when capacity allows
func (l *PostgresInventoryLedger) Hold(ctx context.Context, eventID string, n int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.hold")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.Int("quantity", n),
	)

	if n <= 0 {
		span.SetStatus(codes.Error, "invalid quantity")
		return 0, domain.ErrInvalidQuantity
	}

	query := `
		UPDATE events SET
			seats_held = seats_held + $2,
			updated_at = NOW()
		WHERE id = $1 AND seats_held + $2 <= seats_total
		RETURNING seats_total - seats_held
	`

	var available int
	err := l.pool.QueryRow(ctx, query, eventID, n).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, existsErr := l.eventExists(ctx, eventID)
			if existsErr != nil {
				span.RecordError(existsErr)
				span.SetStatus(codes.Error, existsErr.Error())
				return 0, existsErr
			}
			if !exists {
				span.SetStatus(codes.Error, "event not found")
				return 0, domain.ErrEventNotFound
			}
			span.SetStatus(codes.Error, "insufficient capacity")
			return 0, domain.ErrInsufficientCapacity
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to hold seats: %w", err)
	}

	span.SetAttributes(attribute.Int("available_seats", available))
	span.SetStatus(codes.Ok, "")
	return available, nil
}

// Release decrements seats_held by n, never below zero
func (l *PostgresInventoryLedger) Release(ctx context.Context, eventID string, n int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.release")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
		attribute.Int("quantity", n),
	)

	query := `
		UPDATE events SET
			seats_held = GREATEST(seats_held - $2, 0),
			updated_at = NOW()
		WHERE id = $1
		RETURNING seats_total - seats_held
	`

	var available int
	err := l.pool.QueryRow(ctx, query, eventID, n).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "event not found")
			return 0, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to release seats: %w", err)
	}

	span.SetAttributes(attribute.Int("available_seats", available))
	span.SetStatus(codes.Ok, "")
	return available, nil
}

// Available returns seats_total - seats_held
func (l *PostgresInventoryLedger) Available(ctx context.Context, eventID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.available")
	defer span.End()

	var available int
	err := l.pool.QueryRow(ctx, `SELECT seats_total - seats_held FROM events WHERE id = $1`, eventID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "event not found")
			return 0, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to read availability: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return available, nil
}

func (l *PostgresInventoryLedger) eventExists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)", eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists, nil
}

var _ InventoryLedger = (*PostgresInventoryLedger)(nil)

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

// PostgresEventRepository implements EventRepository using PostgreSQL
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventRepository creates a new PostgresEventRepository
func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

// GetByID retrieves an event by its ID
func (r *PostgresEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", id))

	query := `
		SELECT id, organizer_id, title, seats_total, seats_held,
			pricing_kind, unit_amount, currency, status, created_at, updated_at
		FROM events
		WHERE id = $1
	`

	event := &domain.Event{}
	var pricingKind, status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&event.ID,
		&event.OrganizerID,
		&event.Title,
		&event.SeatsTotal,
		&event.SeatsHeld,
		&pricingKind,
		&event.UnitAmount,
		&event.Currency,
		&status,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	event.PricingKind = domain.PricingKind(pricingKind)
	event.Status = domain.EventStatus(status)

	span.SetStatus(codes.Ok, "")
	return event, nil
}

// Create inserts an event; held seats always start at zero
func (r *PostgresEventRepository) Create(ctx context.Context, event *domain.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.create")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", event.ID))

	query := `
		INSERT INTO events (
			id, organizer_id, title, seats_total, seats_held,
			pricing_kind, unit_amount, currency, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.OrganizerID,
		event.Title,
		event.SeatsTotal,
		string(event.PricingKind),
		event.UnitAmount,
		event.Currency,
		string(event.Status),
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create event: %w", err)
	}

	event.SeatsHeld = 0
	span.SetStatus(codes.Ok, "")
	return nil
}

var _ EventRepository = (*PostgresEventRepository)(nil)

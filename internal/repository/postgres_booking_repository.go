package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/pkg/database"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const bookingColumns = `
	id, booking_code, event_id, user_id, number_of_tickets, total_amount, currency,
	status, status_reason, hold_expiry,
	payment_provider, payment_id, payment_order_id, payment_method, payment_status, paid_at,
	attendee_name, attendee_email, attendee_phone,
	created_at, updated_at
`

// PostgresBookingRepository implements BookingRepository using PostgreSQL with pgxpool
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

// Create creates a new booking record in the database
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("user_id", booking.UserID),
		attribute.String("event_id", booking.EventID),
	)

	query := `
		INSERT INTO bookings (
			id, booking_code, event_id, user_id, number_of_tickets, total_amount, currency,
			status, hold_expiry, payment_status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12
		)
	`

	_, err := r.pool.Exec(ctx, query,
		booking.ID,
		booking.BookingCode,
		booking.EventID,
		booking.UserID,
		booking.NumberOfTickets,
		booking.TotalAmount,
		booking.Currency,
		booking.Status.String(),
		booking.HoldExpiry,
		string(booking.Payment.Status),
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create booking: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a booking by its ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", id))

	booking, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// ListByUser retrieves a page of bookings for a user
func (r *PostgresBookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	bookings, err := r.queryBookings(ctx, query, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return bookings, nil
}

// CountByUser returns the total number of bookings for a user
func (r *PostgresBookingRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.count_by_user")
	defer span.End()

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE user_id = $1`, userID).Scan(&count); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return count, nil
}

const transitionQuery = `
	UPDATE bookings SET
		status = $2,
		status_reason = $3,
		hold_expiry = NULL,
		payment_status = CASE WHEN $2 = 'refunded' THEN 'refunded' ELSE payment_status END,
		updated_at = NOW()
	WHERE id = $1 AND status = ANY($4)
	RETURNING ` + bookingColumns

// Transition applies a status change only while the row is in one of the from states
func (r *PostgresBookingRepository) Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*TransitionResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.transition")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", id),
		attribute.String("to", to.String()),
		attribute.String("reason", string(reason)),
	)

	booking, err := scanBooking(r.pool.QueryRow(ctx, transitionQuery, id, to.String(), string(reason), statusStrings(from)))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return &TransitionResult{Applied: true, Booking: booking}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to transition booking: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "not found")
		return nil, err
	}

	span.SetAttributes(attribute.Bool("applied", false))
	span.SetStatus(codes.Ok, "")
	return &TransitionResult{Applied: false, Booking: current}, nil
}

// TransitionAndRelease applies the check-and-set and gives the booking's seats
// back to events.seats_held in the same transaction. Both happen or neither.
// The returned count is the available seats after release; it is only set when applied.
func (r *PostgresBookingRepository) TransitionAndRelease(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*TransitionResult, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.transition_and_release")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", id),
		attribute.String("to", to.String()),
		attribute.String("reason", string(reason)),
	)

	var (
		result    *TransitionResult
		available int
	)
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		booking, err := scanBooking(tx.QueryRow(ctx, transitionQuery, id, to.String(), string(reason), statusStrings(from)))
		if errors.Is(err, pgx.ErrNoRows) {
			result = &TransitionResult{Applied: false}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to transition booking: %w", err)
		}

		err = tx.QueryRow(ctx, `
			UPDATE events SET
				seats_held = GREATEST(seats_held - $2, 0),
				updated_at = NOW()
			WHERE id = $1
			RETURNING seats_total - seats_held
		`, booking.EventID, booking.NumberOfTickets).Scan(&available)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrEventNotFound
			}
			return fmt.Errorf("failed to release seats: %w", err)
		}

		result = &TransitionResult{Applied: true, Booking: booking}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}

	if !result.Applied {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			span.SetStatus(codes.Error, "not found")
			return nil, 0, err
		}
		result.Booking = current
		span.SetAttributes(attribute.Bool("applied", false))
		span.SetStatus(codes.Ok, "")
		return result, 0, nil
	}

	span.SetAttributes(attribute.Int("available_seats", available))
	span.SetStatus(codes.Ok, "")
	return result, available, nil
}

// CountHeldSeats sums the tickets of an event's pending and confirmed bookings
func (r *PostgresBookingRepository) CountHeldSeats(ctx context.Context, eventID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.count_held_seats")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	var held int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(number_of_tickets), 0)
		FROM bookings
		WHERE event_id = $1 AND status IN ('pending', 'confirmed')
	`, eventID).Scan(&held)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count held seats: %w", err)
	}

	span.SetAttributes(attribute.Int("held", held))
	span.SetStatus(codes.Ok, "")
	return held, nil
}

// Confirm settles a pending booking whose hold has not lapsed at params.PaidAt
func (r *PostgresBookingRepository) Confirm(ctx context.Context, id string, params ConfirmParams) (*TransitionResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.confirm")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", id),
		attribute.String("provider", params.Provider),
		attribute.String("payment_id", params.PaymentID),
	)

	query := `
		UPDATE bookings SET
			status = 'confirmed',
			status_reason = $2,
			hold_expiry = NULL,
			payment_provider = $3,
			payment_id = $4,
			payment_order_id = COALESCE($5, payment_order_id),
			payment_method = $6,
			payment_status = 'completed',
			paid_at = $7,
			attendee_name = COALESCE($8, attendee_name),
			attendee_email = COALESCE($9, attendee_email),
			attendee_phone = COALESCE($10, attendee_phone),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND hold_expiry > $7
		RETURNING ` + bookingColumns

	booking, err := scanBooking(r.pool.QueryRow(ctx, query,
		id,
		string(domain.ReasonPaymentSettled),
		params.Provider,
		nullString(params.PaymentID),
		nullString(params.OrderID),
		nullString(params.Method),
		params.PaidAt,
		nullString(params.Attendee.Name),
		nullString(params.Attendee.Email),
		nullString(params.Attendee.Phone),
	))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return &TransitionResult{Applied: true, Booking: booking}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "not found")
		return nil, err
	}

	span.SetAttributes(attribute.Bool("applied", false))
	span.SetStatus(codes.Ok, "")
	return &TransitionResult{Applied: false, Booking: current}, nil
}

// AttachPaymentOrder stores the provider order id on a pending booking
func (r *PostgresBookingRepository) AttachPaymentOrder(ctx context.Context, id, provider, orderID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.attach_payment_order")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", id),
		attribute.String("provider", provider),
		attribute.String("order_id", orderID),
	)

	query := `
		UPDATE bookings SET
			payment_provider = $2,
			payment_order_id = $3,
			payment_status = 'pending',
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, id, provider, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to attach payment order: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			span.SetStatus(codes.Error, "not found")
			return err
		}
		span.SetStatus(codes.Error, "not pending")
		return domain.ErrBookingNotPending
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FindByPaymentOrder retrieves the booking a provider order belongs to
func (r *PostgresBookingRepository) FindByPaymentOrder(ctx context.Context, provider, orderID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.find_by_payment_order")
	defer span.End()

	span.SetAttributes(
		attribute.String("provider", provider),
		attribute.String("order_id", orderID),
	)

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_provider = $1 AND payment_order_id = $2`
	booking, err := scanBooking(r.pool.QueryRow(ctx, query, provider, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find booking by payment order: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// MarkPaymentFailed records a failed payment attempt; the booking stays pending
func (r *PostgresBookingRepository) MarkPaymentFailed(ctx context.Context, id, provider, paymentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.mark_payment_failed")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", id))

	query := `
		UPDATE bookings SET
			payment_provider = $2,
			payment_id = COALESCE($3, payment_id),
			payment_status = 'failed',
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, id, provider, nullString(paymentID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not pending")
		return domain.ErrBookingNotPending
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListExpiredPending returns pending bookings whose hold lapsed before now, oldest first
func (r *PostgresBookingRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_expired_pending")
	defer span.End()

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'pending' AND hold_expiry <= $1
		ORDER BY hold_expiry ASC
		LIMIT $2
	`

	bookings, err := r.queryBookings(ctx, query, now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return bookings, nil
}

func (r *PostgresBookingRepository) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*domain.Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}

	return bookings, nil
}

// scanBooking scans a row in bookingColumns order
func scanBooking(row pgx.Row) (*domain.Booking, error) {
	booking := &domain.Booking{}
	var (
		status          string
		statusReason    *string
		paymentProvider *string
		paymentID       *string
		paymentOrderID  *string
		paymentMethod   *string
		paymentStatus   string
		attendeeName    *string
		attendeeEmail   *string
		attendeePhone   *string
	)

	err := row.Scan(
		&booking.ID,
		&booking.BookingCode,
		&booking.EventID,
		&booking.UserID,
		&booking.NumberOfTickets,
		&booking.TotalAmount,
		&booking.Currency,
		&status,
		&statusReason,
		&booking.HoldExpiry,
		&paymentProvider,
		&paymentID,
		&paymentOrderID,
		&paymentMethod,
		&paymentStatus,
		&booking.Payment.PaidAt,
		&attendeeName,
		&attendeeEmail,
		&attendeePhone,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	booking.Status = domain.BookingStatus(status)
	booking.Payment.Status = domain.PaymentStatus(paymentStatus)
	if statusReason != nil {
		booking.StatusReason = domain.StatusReason(*statusReason)
	}
	if paymentProvider != nil {
		booking.Payment.Provider = *paymentProvider
	}
	if paymentID != nil {
		booking.Payment.PaymentID = *paymentID
	}
	if paymentOrderID != nil {
		booking.Payment.OrderID = *paymentOrderID
	}
	if paymentMethod != nil {
		booking.Payment.Method = *paymentMethod
	}
	if attendeeName != nil {
		booking.Attendee.Name = *attendeeName
	}
	if attendeeEmail != nil {
		booking.Attendee.Email = *attendeeEmail
	}
	if attendeePhone != nil {
		booking.Attendee.Phone = *attendeePhone
	}

	return booking, nil
}

var (
	_ BookingRepository       = (*PostgresBookingRepository)(nil)
	_ SeatReleasingRepository = (*PostgresBookingRepository)(nil)
	_ HeldSeatCounter         = (*PostgresBookingRepository)(nil)
)

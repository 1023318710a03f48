package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/eventhub-booking/internal/broadcast"
	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/metrics"
	"github.com/prohmpiriya/eventhub-booking/internal/repository"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReservationService holds seats for buyers and gives them back
type ReservationService interface {
	// ReserveSeats holds seats and creates a pending booking
	ReserveSeats(ctx context.Context, userID string, req *dto.ReserveSeatsRequest) (*dto.ReserveSeatsResponse, error)

	// ReleaseBooking cancels the caller's own pending booking and frees its seats
	ReleaseBooking(ctx context.Context, bookingID, userID string) (*dto.ReleaseBookingResponse, error)

	// ExpireBooking cancels a pending booking whose hold lapsed. Returns true if this call released the seats.
	ExpireBooking(ctx context.Context, booking *domain.Booking) (bool, error)

	// ExpireReservations sweeps up to limit lapsed holds
	ExpireReservations(ctx context.Context, limit int) (int, error)

	// CancelAndRelease moves a seat-holding booking to `to` and releases its seats exactly once
	CancelAndRelease(ctx context.Context, booking *domain.Booking, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*repository.TransitionResult, error)

	// GetAvailability returns the authoritative available count
	GetAvailability(ctx context.Context, eventID string) (*dto.AvailabilityResponse, error)
}

// ReservationServiceConfig contains configuration for reservation service
type ReservationServiceConfig struct {
	HoldTTL              time.Duration
	MaxTicketsPerBooking int
	DefaultCurrency      string
	Clock                func() time.Time
	// Tasks runs broadcasts and publishes; nil gets a private runner
	Tasks *BackgroundTasks
	// AtomicRelease releases seats in the booking transaction. Set it only
	// when the ledger counts held seats in the bookings database.
	AtomicRelease bool
}

type reservationService struct {
	ledger         repository.InventoryLedger
	eventRepo      repository.EventRepository
	bookingRepo    repository.BookingRepository
	eventPublisher EventPublisher
	availability   *availabilityPublisher
	tasks          *BackgroundTasks
	releaser       repository.SeatReleasingRepository

	holdTTL         time.Duration
	maxTickets      int
	defaultCurrency string
	now             func() time.Time
}

// NewReservationService creates a new reservation service
func NewReservationService(
	ledger repository.InventoryLedger,
	eventRepo repository.EventRepository,
	bookingRepo repository.BookingRepository,
	broadcaster broadcast.Broadcaster,
	eventPublisher EventPublisher,
	cfg *ReservationServiceConfig,
) ReservationService {
	ttl := 10 * time.Minute
	maxTickets := 10
	currency := "INR"
	clock := time.Now
	var tasks *BackgroundTasks
	var releaser repository.SeatReleasingRepository
	if cfg != nil {
		if cfg.HoldTTL > 0 {
			ttl = cfg.HoldTTL
		}
		if cfg.MaxTicketsPerBooking > 0 {
			maxTickets = cfg.MaxTicketsPerBooking
		}
		if cfg.DefaultCurrency != "" {
			currency = cfg.DefaultCurrency
		}
		if cfg.Clock != nil {
			clock = cfg.Clock
		}
		tasks = cfg.Tasks
		if cfg.AtomicRelease {
			releaser, _ = bookingRepo.(repository.SeatReleasingRepository)
		}
	}
	if eventPublisher == nil {
		eventPublisher = NewNoOpEventPublisher()
	}
	if tasks == nil {
		tasks = NewBackgroundTasks(nil)
	}
	return &reservationService{
		ledger:          ledger,
		eventRepo:       eventRepo,
		bookingRepo:     bookingRepo,
		eventPublisher:  eventPublisher,
		availability:    newAvailabilityPublisher(broadcaster, tasks),
		tasks:           tasks,
		releaser:        releaser,
		holdTTL:         ttl,
		maxTickets:      maxTickets,
		defaultCurrency: currency,
		now:             clock,
	}
}

// ReserveSeats holds seats and creates a pending booking
func (s *reservationService) ReserveSeats(ctx context.Context, userID string, req *dto.ReserveSeatsRequest) (*dto.ReserveSeatsResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.reserve_seats")
	defer span.End()

	if userID == "" {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, domain.ErrInvalidUserID
	}
	if req == nil || req.NumberOfTickets < 1 {
		span.SetStatus(codes.Error, "invalid quantity")
		return nil, domain.ErrInvalidQuantity
	}
	if req.EventID == "" {
		span.SetStatus(codes.Error, "invalid event_id")
		return nil, domain.ErrInvalidEventID
	}
	if req.NumberOfTickets > s.maxTickets {
		span.SetStatus(codes.Error, "max tickets exceeded")
		return nil, fmt.Errorf("%w: limit is %d", domain.ErrMaxTicketsExceeded, s.maxTickets)
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", req.EventID),
		attribute.Int("number_of_tickets", req.NumberOfTickets),
	)

	event, err := s.eventRepo.GetByID(ctx, req.EventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !event.IsBookable() {
		span.SetStatus(codes.Error, "event not bookable")
		return nil, domain.ErrEventNotBookable
	}

	available, err := s.ledger.Hold(ctx, event.ID, req.NumberOfTickets)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCapacity) {
			metrics.RecordReservation("not_enough_seats")
			span.SetStatus(codes.Error, "not enough seats")
			return nil, fmt.Errorf("%w: requested %d", domain.ErrNotEnoughSeats, req.NumberOfTickets)
		}
		metrics.RecordReservation("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	holdExpiry := now.Add(s.holdTTL)
	currency := event.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	booking := &domain.Booking{
		ID:              uuid.New().String(),
		BookingCode:     domain.NewBookingCode(now),
		EventID:         event.ID,
		UserID:          userID,
		NumberOfTickets: req.NumberOfTickets,
		TotalAmount:     event.PriceFor(req.NumberOfTickets),
		Currency:        currency,
		Status:          domain.BookingStatusPending,
		HoldExpiry:      &holdExpiry,
		Payment:         domain.Payment{Status: domain.PaymentStatusPending},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.bookingRepo.Create(ctx, booking); err != nil {
		// the hold has no booking to own it; give the seats back
		if restored, relErr := s.ledger.Release(context.WithoutCancel(ctx), event.ID, req.NumberOfTickets); relErr != nil {
			logger.Get().Error("failed to release seats after booking insert failed",
				zap.String("event_id", event.ID),
				zap.Int("number_of_tickets", req.NumberOfTickets),
				zap.Error(relErr),
			)
		} else {
			s.availability.seatsUpdated(ctx, event.ID, restored)
		}
		metrics.RecordReservation("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.availability.seatsUpdated(ctx, event.ID, available)
	s.availability.bookingCreated(ctx, event.ID, booking.ID, booking.NumberOfTickets)
	s.tasks.run(ctx, "publish.booking.reserved", func(ctx context.Context) error {
		return s.eventPublisher.Publish(ctx, domain.BookingEventReserved, booking)
	})
	metrics.RecordReservation("ok")

	span.AddEvent("reservation_created", trace.WithAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.Int("available_seats", available),
	))
	span.SetStatus(codes.Ok, "")

	logger.Get().Info("seats reserved",
		zap.String("booking_id", booking.ID),
		zap.String("event_id", event.ID),
		zap.Int("number_of_tickets", booking.NumberOfTickets),
		zap.Int("available_seats", available),
	)

	return &dto.ReserveSeatsResponse{
		BookingID:      booking.ID,
		BookingCode:    booking.BookingCode,
		Status:         booking.Status.String(),
		HoldExpiry:     holdExpiry,
		TotalAmount:    booking.TotalAmount,
		Currency:       booking.Currency,
		AvailableSeats: available,
	}, nil
}

// ReleaseBooking cancels the caller's own pending booking and frees its seats
func (s *reservationService) ReleaseBooking(ctx context.Context, bookingID, userID string) (*dto.ReleaseBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.release_booking")
	defer span.End()

	if bookingID == "" {
		span.SetStatus(codes.Error, "invalid booking_id")
		return nil, domain.ErrInvalidBookingID
	}
	span.SetAttributes(attribute.String("booking_id", bookingID), attribute.String("user_id", userID))

	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !booking.BelongsToUser(userID) {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrForbidden
	}

	// a lapsed hold is released as expired, not as a buyer cancellation
	if booking.IsHoldExpired(s.now()) {
		if _, err := s.ExpireBooking(ctx, booking); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetStatus(codes.Ok, "")
		return &dto.ReleaseBookingResponse{
			BookingID: booking.ID,
			Status:    domain.BookingStatusCancelled.String(),
			Message:   "Hold had already expired; seats released",
		}, nil
	}

	result, err := s.CancelAndRelease(ctx, booking,
		[]domain.BookingStatus{domain.BookingStatusPending},
		domain.BookingStatusCancelled, domain.ReasonBuyerCancelled)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp := &dto.ReleaseBookingResponse{
		BookingID: result.Booking.ID,
		Status:    result.Booking.Status.String(),
		Message:   "Booking released",
	}
	if !result.Applied {
		resp.Message = "Booking was not pending; nothing released"
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// ExpireBooking cancels a pending booking whose hold lapsed
func (s *reservationService) ExpireBooking(ctx context.Context, booking *domain.Booking) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.expire_booking")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", booking.ID))

	if !booking.IsHoldExpired(s.now()) {
		span.SetStatus(codes.Ok, "not expired")
		return false, nil
	}

	result, err := s.CancelAndRelease(ctx, booking,
		[]domain.BookingStatus{domain.BookingStatusPending},
		domain.BookingStatusCancelled, domain.ReasonExpired)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	span.SetAttributes(attribute.Bool("applied", result.Applied))
	span.SetStatus(codes.Ok, "")
	return result.Applied, nil
}

// ExpireReservations sweeps up to limit lapsed holds
func (s *reservationService) ExpireReservations(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.expire_reservations")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	expired, err := s.bookingRepo.ListExpiredPending(ctx, s.now(), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	count := 0
	for _, booking := range expired {
		applied, err := s.ExpireBooking(ctx, booking)
		if err != nil {
			logger.Get().Warn("failed to expire booking",
				zap.String("booking_id", booking.ID),
				zap.Error(err),
			)
			continue
		}
		if applied {
			count++
		}
	}

	span.SetAttributes(attribute.Int("expired_count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// CancelAndRelease moves a seat-holding booking to `to` and releases its seats.
// Only the caller whose check-and-set is applied touches the ledger.
func (s *reservationService) CancelAndRelease(
	ctx context.Context,
	booking *domain.Booking,
	from []domain.BookingStatus,
	to domain.BookingStatus,
	reason domain.StatusReason,
) (*repository.TransitionResult, error) {
	for _, st := range from {
		if !domain.CanTransition(st, to) || !st.HoldsSeats() {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, st, to)
		}
	}

	if s.releaser != nil && !to.HoldsSeats() {
		result, available, err := s.releaser.TransitionAndRelease(ctx, booking.ID, from, to, reason)
		if err != nil {
			return nil, err
		}
		if !result.Applied {
			return result, nil
		}
		s.logTransition(booking, to, reason)
		metrics.RecordRelease(string(reason))
		s.availability.seatsUpdated(ctx, booking.EventID, available)
		s.publishTransition(ctx, result.Booking, to, reason)
		return result, nil
	}

	result, err := s.bookingRepo.Transition(ctx, booking.ID, from, to, reason)
	if err != nil {
		return nil, err
	}
	if !result.Applied {
		return result, nil
	}
	s.logTransition(booking, to, reason)

	if !to.HoldsSeats() {
		// the booking has left the seat-holding states, so the release must
		// happen even if the caller gives up now
		releaseCtx := context.WithoutCancel(ctx)
		available, err := s.ledger.Release(releaseCtx, booking.EventID, booking.NumberOfTickets)
		if err != nil {
			metrics.RecordRelease("failed")
			logger.Get().Error("failed to release seats",
				zap.String("booking_id", booking.ID),
				zap.String("event_id", booking.EventID),
				zap.Int("number_of_tickets", booking.NumberOfTickets),
				zap.Error(err),
			)
		} else {
			metrics.RecordRelease(string(reason))
			s.availability.seatsUpdated(releaseCtx, booking.EventID, available)
		}
	}

	s.publishTransition(ctx, result.Booking, to, reason)
	return result, nil
}

func (s *reservationService) logTransition(booking *domain.Booking, to domain.BookingStatus, reason domain.StatusReason) {
	logger.Get().Info("booking transition",
		zap.String("booking_id", booking.ID),
		zap.String("from", booking.Status.String()),
		zap.String("to", to.String()),
		zap.String("reason", string(reason)),
	)
}

func (s *reservationService) publishTransition(ctx context.Context, updated *domain.Booking, to domain.BookingStatus, reason domain.StatusReason) {
	s.tasks.run(ctx, "publish.booking."+string(reason), func(ctx context.Context) error {
		eventType := domain.BookingEventCancelled
		switch {
		case to == domain.BookingStatusRefunded:
			eventType = domain.BookingEventRefunded
		case reason == domain.ReasonExpired:
			eventType = domain.BookingEventExpired
		}
		return s.eventPublisher.Publish(ctx, eventType, updated)
	})
}

// GetAvailability returns the authoritative available count
func (s *reservationService) GetAvailability(ctx context.Context, eventID string) (*dto.AvailabilityResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.get_availability")
	defer span.End()

	if eventID == "" {
		span.SetStatus(codes.Error, "invalid event_id")
		return nil, domain.ErrInvalidEventID
	}

	available, err := s.ledger.Available(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &dto.AvailabilityResponse{EventID: eventID, AvailableSeats: available}, nil
}

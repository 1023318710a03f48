package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/gateway"
	"github.com/prohmpiriya/eventhub-booking/internal/repository"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// BookingService reads bookings and applies buyer or admin transitions
type BookingService interface {
	// GetBooking returns a booking visible to the caller, expiring a lapsed hold on read
	GetBooking(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error)

	// GetUserBookings returns the caller's bookings newest first
	GetUserBookings(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error)

	// CancelBooking cancels a booking; buyers may cancel only their own pending booking
	CancelBooking(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error)

	// RefundBooking refunds a confirmed booking through the provider that took the payment and frees its seats
	RefundBooking(ctx context.Context, bookingID string) (*dto.BookingResponse, error)
}

// BookingServiceConfig contains configuration for booking service
type BookingServiceConfig struct {
	MaxPageSize int
	Clock       func() time.Time
}

type bookingService struct {
	bookingRepo   repository.BookingRepository
	reservations  ReservationService
	orderGateway  gateway.OrderGateway
	intentGateway gateway.IntentGateway
	maxPageSize   int
	now           func() time.Time
}

// NewBookingService creates a new booking service. Either gateway may be nil.
func NewBookingService(
	bookingRepo repository.BookingRepository,
	reservations ReservationService,
	orderGateway gateway.OrderGateway,
	intentGateway gateway.IntentGateway,
	cfg *BookingServiceConfig,
) BookingService {
	maxPageSize := 100
	clock := time.Now
	if cfg != nil {
		if cfg.MaxPageSize > 0 {
			maxPageSize = cfg.MaxPageSize
		}
		if cfg.Clock != nil {
			clock = cfg.Clock
		}
	}
	return &bookingService{
		bookingRepo:   bookingRepo,
		reservations:  reservations,
		orderGateway:  orderGateway,
		intentGateway: intentGateway,
		maxPageSize:   maxPageSize,
		now:           clock,
	}
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get_booking")
	defer span.End()

	if bookingID == "" {
		span.SetStatus(codes.Error, "invalid booking_id")
		return nil, domain.ErrInvalidBookingID
	}
	span.SetAttributes(attribute.String("booking_id", bookingID))

	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !isAdmin && !booking.BelongsToUser(userID) {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrForbidden
	}

	if booking.IsHoldExpired(s.now()) {
		if _, err := s.reservations.ExpireBooking(ctx, booking); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		// re-read: the sweeper or a settlement may have won the race
		if booking, err = s.bookingRepo.GetByID(ctx, bookingID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}

func (s *bookingService) GetUserBookings(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get_user_bookings")
	defer span.End()

	if userID == "" {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, domain.ErrInvalidUserID
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	bookings, err := s.bookingRepo.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	total, err := s.bookingRepo.CountByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dto.NewPaginatedResponse(dto.FromDomainList(bookings), page, pageSize, total), nil
}

func (s *bookingService) CancelBooking(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel_booking")
	defer span.End()

	if bookingID == "" {
		span.SetStatus(codes.Error, "invalid booking_id")
		return nil, domain.ErrInvalidBookingID
	}
	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.Bool("is_admin", isAdmin),
	)

	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !isAdmin && !booking.BelongsToUser(userID) {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrForbidden
	}

	if booking.IsHoldExpired(s.now()) {
		if _, err := s.reservations.ExpireBooking(ctx, booking); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetStatus(codes.Error, "hold expired")
		return nil, domain.ErrHoldExpired
	}

	from := []domain.BookingStatus{domain.BookingStatusPending}
	reason := domain.ReasonBuyerCancelled
	if isAdmin {
		from = append(from, domain.BookingStatusConfirmed)
		reason = domain.ReasonAdminCancelled
	}

	result, err := s.reservations.CancelAndRelease(ctx, booking, from, domain.BookingStatusCancelled, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !result.Applied {
		span.SetStatus(codes.Error, "invalid transition")
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, result.Booking.Status)
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(result.Booking), nil
}

func (s *bookingService) RefundBooking(ctx context.Context, bookingID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.refund_booking")
	defer span.End()

	if bookingID == "" {
		span.SetStatus(codes.Error, "invalid booking_id")
		return nil, domain.ErrInvalidBookingID
	}
	span.SetAttributes(attribute.String("booking_id", bookingID))

	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !booking.IsConfirmed() {
		span.SetStatus(codes.Error, "not confirmed")
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, booking.Status)
	}

	if booking.TotalAmount > 0 && booking.Payment.Provider != domain.ProviderFree {
		refund := s.refunderFor(booking.Payment.Provider)
		if refund == nil {
			logger.Get().Error("no gateway can refund this booking",
				zap.String("booking_id", booking.ID),
				zap.String("provider", booking.Payment.Provider),
			)
			span.SetStatus(codes.Error, "provider unavailable")
			return nil, domain.ErrProviderUnavailable
		}
		if err := refund(ctx, booking.Payment.PaymentID, booking.TotalAmount); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		logger.Get().Info("provider refund issued",
			zap.String("booking_id", booking.ID),
			zap.String("provider", booking.Payment.Provider),
			zap.String("payment_id", booking.Payment.PaymentID),
			zap.Int64("amount", booking.TotalAmount),
		)
	}

	result, err := s.reservations.CancelAndRelease(ctx, booking,
		[]domain.BookingStatus{domain.BookingStatusConfirmed},
		domain.BookingStatusRefunded, domain.ReasonRefundIssued)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !result.Applied {
		logger.Get().Warn("refund issued but booking changed concurrently",
			zap.String("booking_id", booking.ID),
			zap.String("status", result.Booking.Status.String()),
		)
		span.SetStatus(codes.Error, "invalid transition")
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, result.Booking.Status)
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(result.Booking), nil
}

// refunderFor returns the refund call of the gateway that took the payment, or nil
func (s *bookingService) refunderFor(provider string) func(ctx context.Context, paymentID string, amount int64) error {
	switch {
	case s.orderGateway != nil && provider == s.orderGateway.Name():
		return s.orderGateway.Refund
	case s.intentGateway != nil && provider == s.intentGateway.Name():
		return s.intentGateway.Refund
	}
	return nil
}

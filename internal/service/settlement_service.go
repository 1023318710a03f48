package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/gateway"
	"github.com/prohmpiriya/eventhub-booking/internal/metrics"
	"github.com/prohmpiriya/eventhub-booking/internal/notifier"
	"github.com/prohmpiriya/eventhub-booking/internal/repository"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Settlement paths
const (
	PathFree    = "free"
	PathOrder   = "order"
	PathIntent  = "intent"
	PathWebhook = "webhook"
	PathMock    = "mock"
)

// Webhook outcomes
const (
	OutcomeConfirmed      = "confirmed"
	OutcomeAlreadySettled = "already_settled"
	OutcomeHoldExpired    = "hold_expired"
	OutcomeAmountMismatch = "amount_mismatch"
	OutcomePaymentFailed  = "payment_failed"
	OutcomeUnknownBooking = "unknown_booking"
	OutcomeIgnored        = "ignored"
	OutcomeDuplicate      = "duplicate"
	OutcomeNotPending     = "not_pending"
)

// SettlementService turns verified payment proofs into confirmed bookings, exactly once per booking
type SettlementService interface {
	// GetPaymentConfig reports which payment flows the client can use
	GetPaymentConfig(ctx context.Context) *dto.PaymentConfigResponse

	// CreateOrder creates an order-path provider order sized to the booking total
	CreateOrder(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateOrderResponse, error)

	// CreateIntent creates an intent-path payment intent sized to the booking total
	CreateIntent(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateIntentResponse, error)

	// CreateQRCode creates a single-use UPI QR code for the booking total that closes with the hold
	CreateQRCode(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateQRCodeResponse, error)

	// ConfirmFree confirms a booking on a free event
	ConfirmFree(ctx context.Context, bookingID, userID string, req *dto.ConfirmFreeRequest) (*dto.ConfirmBookingResponse, error)

	// ConfirmOrder verifies an order signature and the provider payment, then confirms
	ConfirmOrder(ctx context.Context, bookingID, userID string, req *dto.ConfirmOrderRequest) (*dto.ConfirmBookingResponse, error)

	// ConfirmIntent re-fetches an intent and confirms if it succeeded
	ConfirmIntent(ctx context.Context, bookingID, userID string, req *dto.ConfirmIntentRequest) (*dto.ConfirmBookingResponse, error)

	// HandleWebhook applies a verified provider webhook. Returns the outcome for acknowledgement.
	HandleWebhook(ctx context.Context, evt *gateway.WebhookEvent) (*dto.WebhookResponse, error)
}

// SettlementServiceConfig contains configuration for settlement service
type SettlementServiceConfig struct {
	ProviderTimeout time.Duration
	Clock           func() time.Time
}

type settlementService struct {
	bookingRepo    repository.BookingRepository
	eventRepo      repository.EventRepository
	reservations   ReservationService
	orderGateway   gateway.OrderGateway
	intentGateway  gateway.IntentGateway
	notifier       notifier.Notifier
	eventPublisher EventPublisher
	deduper        WebhookDeduper
	tasks          *BackgroundTasks

	providerTimeout time.Duration
	now             func() time.Time
}

// SettlementDeps groups the collaborators of the settlement service.
// OrderGateway and IntentGateway may be nil when a provider is not configured.
// Tasks may be nil; a private runner is created.
type SettlementDeps struct {
	BookingRepo    repository.BookingRepository
	EventRepo      repository.EventRepository
	Reservations   ReservationService
	OrderGateway   gateway.OrderGateway
	IntentGateway  gateway.IntentGateway
	Notifier       notifier.Notifier
	EventPublisher EventPublisher
	Deduper        WebhookDeduper
	Tasks          *BackgroundTasks
}

// NewSettlementService creates a new settlement service
func NewSettlementService(deps SettlementDeps, cfg *SettlementServiceConfig) SettlementService {
	timeout := 10 * time.Second
	clock := time.Now
	if cfg != nil {
		if cfg.ProviderTimeout > 0 {
			timeout = cfg.ProviderTimeout
		}
		if cfg.Clock != nil {
			clock = cfg.Clock
		}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.NewNoOpNotifier("all")
	}
	if deps.EventPublisher == nil {
		deps.EventPublisher = NewNoOpEventPublisher()
	}
	if deps.Deduper == nil {
		deps.Deduper = NewMemoryWebhookDeduper()
	}
	if deps.Tasks == nil {
		deps.Tasks = NewBackgroundTasks(nil)
	}
	return &settlementService{
		bookingRepo:     deps.BookingRepo,
		eventRepo:       deps.EventRepo,
		reservations:    deps.Reservations,
		orderGateway:    deps.OrderGateway,
		intentGateway:   deps.IntentGateway,
		notifier:        deps.Notifier,
		eventPublisher:  deps.EventPublisher,
		deduper:         deps.Deduper,
		tasks:           deps.Tasks,
		providerTimeout: timeout,
		now:             clock,
	}
}

func (s *settlementService) GetPaymentConfig(ctx context.Context) *dto.PaymentConfigResponse {
	resp := &dto.PaymentConfigResponse{}
	if s.orderGateway != nil {
		resp.Razorpay = dto.ProviderConfig{Enabled: true, KeyID: s.orderGateway.KeyID()}
	}
	if s.intentGateway != nil {
		resp.Stripe = dto.ProviderConfig{Enabled: true, PublishableKey: s.intentGateway.PublishableKey()}
	}
	resp.MockMode = gateway.IsSimulated(s.orderGateway) || gateway.IsSimulated(s.intentGateway)
	return resp
}

func (s *settlementService) CreateOrder(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateOrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.create_order")
	defer span.End()

	booking, err := s.loadPayable(ctx, req, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("booking_id", booking.ID), attribute.Int64("amount", booking.TotalAmount))

	if s.orderGateway == nil {
		span.SetStatus(codes.Error, "provider unavailable")
		return nil, domain.ErrProviderUnavailable
	}
	mock := gateway.IsSimulated(s.orderGateway)

	// an order already attached is reused so a retried checkout does not create a second one
	if booking.Payment.Provider == s.orderGateway.Name() && booking.Payment.OrderID != "" {
		span.SetStatus(codes.Ok, "existing order")
		return &dto.CreateOrderResponse{
			OrderID:  booking.Payment.OrderID,
			Amount:   booking.TotalAmount,
			Currency: booking.Currency,
			KeyID:    s.orderGateway.KeyID(),
			MockMode: mock,
		}, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	order, err := s.orderGateway.CreateOrder(pctx, &gateway.OrderRequest{
		Amount:   booking.TotalAmount,
		Currency: booking.Currency,
		Receipt:  receiptFor(booking, s.now()),
		Notes: map[string]string{
			"booking_id":        booking.ID,
			"event_id":          booking.EventID,
			"user_id":           booking.UserID,
			"number_of_tickets": fmt.Sprintf("%d", booking.NumberOfTickets),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	if err := s.bookingRepo.AttachPaymentOrder(ctx, booking.ID, s.orderGateway.Name(), order.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &dto.CreateOrderResponse{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		KeyID:    s.orderGateway.KeyID(),
		MockMode: mock,
	}, nil
}

func (s *settlementService) CreateIntent(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateIntentResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.create_intent")
	defer span.End()

	booking, err := s.loadPayable(ctx, req, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("booking_id", booking.ID), attribute.Int64("amount", booking.TotalAmount))

	if s.intentGateway == nil {
		span.SetStatus(codes.Error, "provider unavailable")
		return nil, domain.ErrProviderUnavailable
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	var intent *gateway.Intent
	if booking.Payment.Provider == s.intentGateway.Name() && booking.Payment.OrderID != "" {
		intent, err = s.intentGateway.GetIntent(pctx, booking.Payment.OrderID)
	} else {
		intent, err = s.intentGateway.CreateIntent(pctx, &gateway.IntentRequest{
			Amount:      booking.TotalAmount,
			Currency:    booking.Currency,
			Description: fmt.Sprintf("Booking %s", booking.BookingCode),
			Metadata: map[string]string{
				"booking_id": booking.ID,
				"event_id":   booking.EventID,
				"user_id":    booking.UserID,
			},
		})
		if err == nil {
			err = s.bookingRepo.AttachPaymentOrder(ctx, booking.ID, s.intentGateway.Name(), intent.ID)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, gateway.ErrProviderRequest) {
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &dto.CreateIntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		MockMode:     gateway.IsSimulated(s.intentGateway),
	}, nil
}

func (s *settlementService) CreateQRCode(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateQRCodeResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.create_qr_code")
	defer span.End()

	booking, err := s.loadPayable(ctx, req, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("booking_id", booking.ID), attribute.Int64("amount", booking.TotalAmount))

	if s.orderGateway == nil {
		span.SetStatus(codes.Error, "provider unavailable")
		return nil, domain.ErrProviderUnavailable
	}
	if booking.HoldExpiry == nil {
		span.SetStatus(codes.Error, "no hold expiry")
		return nil, domain.ErrBookingNotPayable
	}

	name := "Booking " + booking.BookingCode
	if event, err := s.eventRepo.GetByID(ctx, booking.EventID); err == nil {
		name = event.Title
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	// the code closes with the hold so a late scan cannot pay for released seats
	qr, err := s.orderGateway.CreateQRCode(pctx, &gateway.QRCodeRequest{
		Name:        name,
		Description: fmt.Sprintf("%d ticket(s), booking %s", booking.NumberOfTickets, booking.BookingCode),
		Amount:      booking.TotalAmount,
		CloseBy:     *booking.HoldExpiry,
		Notes: map[string]string{
			"booking_id": booking.ID,
			"event_id":   booking.EventID,
			"user_id":    booking.UserID,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	logger.Get().Info("upi qr code created",
		zap.String("booking_id", booking.ID),
		zap.String("qr_code_id", qr.ID),
	)

	span.SetStatus(codes.Ok, "")
	return &dto.CreateQRCodeResponse{
		QRCodeID:  qr.ID,
		ImageURL:  qr.ImageURL,
		Amount:    booking.TotalAmount,
		Currency:  booking.Currency,
		ExpiresAt: booking.HoldExpiry.Unix(),
		MockMode:  gateway.IsSimulated(s.orderGateway),
	}, nil
}

func (s *settlementService) ConfirmFree(ctx context.Context, bookingID, userID string, req *dto.ConfirmFreeRequest) (*dto.ConfirmBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.confirm_free")
	defer span.End()

	resp, err := s.confirmFree(ctx, bookingID, userID, req)
	finishSettlement(span, PathFree, resp, err)
	return resp, err
}

func (s *settlementService) confirmFree(ctx context.Context, bookingID, userID string, req *dto.ConfirmFreeRequest) (*dto.ConfirmBookingResponse, error) {
	if req == nil {
		req = &dto.ConfirmFreeRequest{}
	}
	attendee, err := validAttendee(req.AttendeeInfo)
	if err != nil {
		return nil, err
	}

	booking, settled, err := s.loadSettleable(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if settled {
		if booking.Payment.Provider != domain.ProviderFree {
			return nil, domain.ErrEventNotFree
		}
		return alreadySettled(booking), nil
	}

	event, err := s.eventRepo.GetByID(ctx, booking.EventID)
	if err != nil {
		return nil, err
	}
	if !event.IsFree() || booking.TotalAmount != 0 {
		return nil, domain.ErrEventNotFree
	}

	return s.confirm(ctx, booking, PathFree, repository.ConfirmParams{
		Provider: domain.ProviderFree,
		Method:   domain.ProviderFree,
		Attendee: attendee,
	})
}

func (s *settlementService) ConfirmOrder(ctx context.Context, bookingID, userID string, req *dto.ConfirmOrderRequest) (*dto.ConfirmBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.confirm_order")
	defer span.End()

	if req != nil {
		span.SetAttributes(
			attribute.String("order_id", req.OrderID),
			attribute.String("payment_id", req.PaymentID),
		)
	}

	resp, err := s.confirmOrder(ctx, bookingID, userID, req)
	finishSettlement(span, PathOrder, resp, err)
	return resp, err
}

func (s *settlementService) confirmOrder(ctx context.Context, bookingID, userID string, req *dto.ConfirmOrderRequest) (*dto.ConfirmBookingResponse, error) {
	if req == nil {
		req = &dto.ConfirmOrderRequest{}
	}
	attendee, err := validAttendee(req.AttendeeInfo)
	if err != nil {
		return nil, err
	}

	booking, settled, err := s.loadSettleable(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}

	if s.orderGateway == nil {
		return nil, domain.ErrProviderUnavailable
	}

	path := PathOrder
	proof := *req
	if sim, ok := s.orderGateway.(gateway.CheckoutSimulator); ok && !settled && proof.PaymentID == "" {
		if proof.OrderID == "" {
			proof.OrderID = booking.Payment.OrderID
		}
		if proof.PaymentID, proof.Signature, err = sim.Pay(proof.OrderID, domain.ProviderMock); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPaymentProof, err)
		}
		path = PathMock
	}

	if proof.OrderID == "" || proof.PaymentID == "" || proof.Signature == "" {
		return nil, fmt.Errorf("%w: order_id, payment_id and signature are required", domain.ErrInvalidPaymentProof)
	}

	if booking.Payment.OrderID != "" && booking.Payment.OrderID != proof.OrderID {
		return nil, fmt.Errorf("%w: order does not belong to this booking", domain.ErrInvalidPaymentProof)
	}

	if !s.orderGateway.VerifyPaymentSignature(proof.OrderID, proof.PaymentID, proof.Signature) {
		logger.Get().Warn("payment signature mismatch",
			zap.String("booking_id", booking.ID),
			zap.String("order_id", proof.OrderID),
		)
		return nil, domain.ErrSignatureMismatch
	}

	// a settled booking is only reported back to a caller holding its proof
	if settled {
		if booking.Payment.PaymentID != proof.PaymentID {
			return nil, fmt.Errorf("%w: payment does not belong to this booking", domain.ErrInvalidPaymentProof)
		}
		return alreadySettled(booking), nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	payment, err := s.orderGateway.FetchPayment(pctx, proof.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if payment.OrderID != "" && payment.OrderID != proof.OrderID {
		return nil, fmt.Errorf("%w: payment belongs to another order", domain.ErrInvalidPaymentProof)
	}
	if payment.Amount != booking.TotalAmount {
		return nil, fmt.Errorf("%w: paid %d, expected %d", domain.ErrAmountMismatch, payment.Amount, booking.TotalAmount)
	}
	if !payment.IsSuccessful() {
		return nil, fmt.Errorf("%w: status %s", domain.ErrPaymentNotCaptured, payment.Status)
	}

	method := payment.Method
	if method == "" {
		method = s.orderGateway.Name()
	}

	resp, err := s.confirm(ctx, booking, path, repository.ConfirmParams{
		Provider:  s.orderGateway.Name(),
		PaymentID: payment.ID,
		OrderID:   proof.OrderID,
		Method:    method,
		Attendee:  attendee,
	})
	if resp != nil {
		resp.MockMode = path == PathMock
	}
	return resp, err
}

func (s *settlementService) ConfirmIntent(ctx context.Context, bookingID, userID string, req *dto.ConfirmIntentRequest) (*dto.ConfirmBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.confirm_intent")
	defer span.End()

	if req != nil {
		span.SetAttributes(attribute.String("intent_id", req.IntentID))
	}

	resp, err := s.confirmIntent(ctx, bookingID, userID, req)
	finishSettlement(span, PathIntent, resp, err)
	return resp, err
}

func (s *settlementService) confirmIntent(ctx context.Context, bookingID, userID string, req *dto.ConfirmIntentRequest) (*dto.ConfirmBookingResponse, error) {
	if req == nil {
		req = &dto.ConfirmIntentRequest{}
	}
	attendee, err := validAttendee(req.AttendeeInfo)
	if err != nil {
		return nil, err
	}

	booking, settled, err := s.loadSettleable(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}

	if s.intentGateway == nil {
		return nil, domain.ErrProviderUnavailable
	}

	intentID := req.IntentID
	path := PathIntent
	sim, simulated := s.intentGateway.(gateway.CheckoutSimulator)
	if simulated && intentID == "" && !settled {
		intentID = booking.Payment.OrderID
	}
	if intentID == "" {
		return nil, fmt.Errorf("%w: intent_id is required", domain.ErrInvalidPaymentProof)
	}

	// a settled booking is only reported back to a caller naming its intent
	if settled {
		if booking.Payment.PaymentID != intentID {
			return nil, fmt.Errorf("%w: intent does not belong to this booking", domain.ErrInvalidPaymentProof)
		}
		return alreadySettled(booking), nil
	}

	if simulated {
		if err := sim.SetIntentStatus(intentID, gateway.IntentStatusSucceeded); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPaymentProof, err)
		}
		path = PathMock
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	intent, err := s.intentGateway.GetIntent(pctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if owner := intent.Metadata["booking_id"]; owner != "" && owner != booking.ID {
		return nil, fmt.Errorf("%w: intent belongs to another booking", domain.ErrInvalidPaymentProof)
	}
	if intent.Amount != booking.TotalAmount {
		return nil, fmt.Errorf("%w: intent %d, expected %d", domain.ErrAmountMismatch, intent.Amount, booking.TotalAmount)
	}
	if !intent.Succeeded() {
		return nil, fmt.Errorf("%w: status %s", domain.ErrPaymentNotCaptured, intent.Status)
	}

	method := intent.Method
	if method == "" {
		method = "card"
	}

	resp, err := s.confirm(ctx, booking, path, repository.ConfirmParams{
		Provider:  s.intentGateway.Name(),
		PaymentID: intent.ID,
		OrderID:   intent.ID,
		Method:    method,
		Attendee:  attendee,
	})
	if resp != nil {
		resp.MockMode = path == PathMock
	}
	return resp, err
}

func (s *settlementService) HandleWebhook(ctx context.Context, evt *gateway.WebhookEvent) (*dto.WebhookResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.settlement.handle_webhook")
	defer span.End()

	span.SetAttributes(
		attribute.String("provider", evt.Provider),
		attribute.String("webhook_id", evt.ID),
		attribute.String("webhook_type", evt.Type),
	)

	if evt.Kind == gateway.WebhookIgnored {
		metrics.RecordWebhook(evt.Provider, OutcomeIgnored)
		span.SetStatus(codes.Ok, OutcomeIgnored)
		return &dto.WebhookResponse{Received: true, Outcome: OutcomeIgnored}, nil
	}

	if evt.ID != "" {
		claimed, err := s.deduper.Claim(ctx, evt.Provider, evt.ID)
		if err != nil {
			// the booking check-and-set still guards against double confirmation
			logger.Get().Warn("webhook dedupe unavailable", zap.String("webhook_id", evt.ID), zap.Error(err))
		} else if !claimed {
			metrics.RecordWebhook(evt.Provider, OutcomeDuplicate)
			span.SetStatus(codes.Ok, OutcomeDuplicate)
			return &dto.WebhookResponse{Received: true, Duplicate: true, Outcome: OutcomeDuplicate}, nil
		}
	}

	outcome, err := s.applyWebhook(ctx, evt)
	if err != nil {
		if evt.ID != "" {
			if ferr := s.deduper.Forget(context.WithoutCancel(ctx), evt.Provider, evt.ID); ferr != nil {
				logger.Get().Warn("failed to forget webhook claim", zap.String("webhook_id", evt.ID), zap.Error(ferr))
			}
		}
		metrics.RecordWebhook(evt.Provider, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.RecordWebhook(evt.Provider, outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	span.SetStatus(codes.Ok, outcome)
	return &dto.WebhookResponse{Received: true, Outcome: outcome}, nil
}

func (s *settlementService) applyWebhook(ctx context.Context, evt *gateway.WebhookEvent) (string, error) {
	booking, err := s.findWebhookBooking(ctx, evt)
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			logger.Get().Warn("webhook for unknown booking",
				zap.String("provider", evt.Provider),
				zap.String("booking_id", evt.BookingID),
				zap.String("order_id", evt.OrderID),
			)
			return OutcomeUnknownBooking, nil
		}
		return "", err
	}

	if evt.Kind == gateway.WebhookPaymentFailed {
		if err := s.bookingRepo.MarkPaymentFailed(ctx, booking.ID, evt.Provider, evt.PaymentID); err != nil {
			if errors.Is(err, domain.ErrBookingNotPending) {
				return OutcomeNotPending, nil
			}
			return "", err
		}
		logger.Get().Info("payment failed",
			zap.String("booking_id", booking.ID),
			zap.String("provider", evt.Provider),
			zap.String("reason", evt.FailureReason),
		)
		return OutcomePaymentFailed, nil
	}

	switch {
	case booking.IsConfirmed():
		return OutcomeAlreadySettled, nil
	case booking.WasExpired(), booking.IsHoldExpired(s.now()):
		if booking.IsPending() {
			if _, err := s.reservations.ExpireBooking(ctx, booking); err != nil {
				return "", err
			}
		}
		logger.Get().Error("payment captured for an expired hold; refund required",
			zap.String("booking_id", booking.ID),
			zap.String("provider", evt.Provider),
			zap.String("payment_id", evt.PaymentID),
		)
		metrics.RecordSettlement(PathWebhook, "hold_expired")
		return OutcomeHoldExpired, nil
	case !booking.IsPending():
		return OutcomeNotPending, nil
	}

	if evt.Amount != booking.TotalAmount {
		logger.Get().Error("webhook amount does not match booking total",
			zap.String("booking_id", booking.ID),
			zap.Int64("paid", evt.Amount),
			zap.Int64("expected", booking.TotalAmount),
		)
		metrics.RecordSettlement(PathWebhook, "amount_mismatch")
		return OutcomeAmountMismatch, nil
	}

	orderID := evt.OrderID
	if orderID == "" && evt.Provider == domain.ProviderStripe {
		orderID = evt.PaymentID
	}
	method := evt.Method
	if method == "" {
		method = evt.Provider
	}

	_, err = s.confirm(ctx, booking, PathWebhook, repository.ConfirmParams{
		Provider:  evt.Provider,
		PaymentID: evt.PaymentID,
		OrderID:   orderID,
		Method:    method,
	})
	switch {
	case err == nil:
		metrics.RecordSettlement(PathWebhook, "confirmed")
		return OutcomeConfirmed, nil
	case errors.Is(err, domain.ErrHoldExpired):
		return OutcomeHoldExpired, nil
	case errors.Is(err, domain.ErrBookingNotPending):
		return OutcomeNotPending, nil
	default:
		return "", err
	}
}

func (s *settlementService) findWebhookBooking(ctx context.Context, evt *gateway.WebhookEvent) (*domain.Booking, error) {
	if evt.BookingID != "" {
		return s.bookingRepo.GetByID(ctx, evt.BookingID)
	}
	if evt.OrderID != "" {
		return s.bookingRepo.FindByPaymentOrder(ctx, evt.Provider, evt.OrderID)
	}
	return nil, domain.ErrBookingNotFound
}

// loadPayable loads the caller's pending, unexpired booking that has an amount to pay
func (s *settlementService) loadPayable(ctx context.Context, req *dto.CreatePaymentRequest, userID string) (*domain.Booking, error) {
	if req == nil || req.BookingID == "" {
		return nil, domain.ErrInvalidBookingID
	}
	booking, err := s.bookingRepo.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !booking.BelongsToUser(userID) {
		return nil, domain.ErrForbidden
	}
	if booking.IsHoldExpired(s.now()) {
		if _, err := s.reservations.ExpireBooking(ctx, booking); err != nil {
			return nil, err
		}
		return nil, domain.ErrHoldExpired
	}
	if !booking.IsPending() {
		if booking.WasExpired() {
			return nil, domain.ErrHoldExpired
		}
		return nil, domain.ErrBookingNotPending
	}
	if booking.TotalAmount <= 0 {
		return nil, domain.ErrBookingNotPayable
	}
	return booking, nil
}

// loadSettleable loads the caller's booking and decides whether it can still be confirmed.
// settled is true when it is already confirmed; callers check the proof before reporting that.
func (s *settlementService) loadSettleable(ctx context.Context, bookingID, userID string) (*domain.Booking, bool, error) {
	if bookingID == "" {
		return nil, false, domain.ErrInvalidBookingID
	}
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	if !booking.BelongsToUser(userID) {
		return nil, false, domain.ErrForbidden
	}

	switch {
	case booking.IsConfirmed():
		return booking, true, nil
	case booking.WasExpired():
		return nil, false, domain.ErrHoldExpired
	case !booking.IsPending():
		return nil, false, fmt.Errorf("%w: booking is %s", domain.ErrBookingNotPending, booking.Status)
	case booking.IsHoldExpired(s.now()):
		if _, err := s.reservations.ExpireBooking(ctx, booking); err != nil {
			return nil, false, err
		}
		return nil, false, domain.ErrHoldExpired
	}
	return booking, false, nil
}

// confirm applies the pending -> confirmed check-and-set and fires side effects once
func (s *settlementService) confirm(ctx context.Context, booking *domain.Booking, path string, params repository.ConfirmParams) (*dto.ConfirmBookingResponse, error) {
	params.PaidAt = s.now()

	result, err := s.bookingRepo.Confirm(ctx, booking.ID, params)
	if err != nil {
		return nil, err
	}

	if !result.Applied {
		current := result.Booking
		switch {
		case current.IsConfirmed():
			return alreadySettled(current), nil
		case current.IsPending() && current.IsHoldExpired(params.PaidAt):
			if _, err := s.reservations.ExpireBooking(ctx, current); err != nil {
				return nil, err
			}
			return nil, domain.ErrHoldExpired
		case current.WasExpired():
			return nil, domain.ErrHoldExpired
		default:
			return nil, fmt.Errorf("%w: booking is %s", domain.ErrBookingNotPending, current.Status)
		}
	}

	confirmed := result.Booking
	logger.Get().Info("booking transition",
		zap.String("booking_id", confirmed.ID),
		zap.String("from", domain.BookingStatusPending.String()),
		zap.String("to", domain.BookingStatusConfirmed.String()),
		zap.String("reason", string(domain.ReasonPaymentSettled)),
		zap.String("path", path),
		zap.String("provider", params.Provider),
	)

	metrics.RecordConfirmation(path, params.PaidAt.Sub(confirmed.CreatedAt).Seconds())

	s.tasks.run(ctx, "publish.booking.confirmed", func(ctx context.Context) error {
		return s.eventPublisher.Publish(ctx, domain.BookingEventConfirmed, confirmed)
	})
	s.tasks.run(ctx, "notify.booking.confirmed", func(ctx context.Context) error {
		return s.notifier.NotifyBookingConfirmed(ctx, s.confirmationFor(ctx, confirmed))
	})

	return &dto.ConfirmBookingResponse{Booking: dto.FromDomain(confirmed)}, nil
}

func (s *settlementService) confirmationFor(ctx context.Context, b *domain.Booking) notifier.Confirmation {
	c := notifier.Confirmation{
		BookingID:       b.ID,
		BookingCode:     b.BookingCode,
		Name:            b.Attendee.Name,
		Email:           b.Attendee.Email,
		Phone:           b.Attendee.Phone,
		NumberOfTickets: b.NumberOfTickets,
		TotalAmount:     b.TotalAmount,
		Currency:        b.Currency,
	}
	if event, err := s.eventRepo.GetByID(ctx, b.EventID); err == nil {
		c.EventTitle = event.Title
	}
	return c
}

func alreadySettled(b *domain.Booking) *dto.ConfirmBookingResponse {
	return &dto.ConfirmBookingResponse{Booking: dto.FromDomain(b), AlreadySettled: true}
}

func validAttendee(in dto.AttendeeInfo) (domain.AttendeeInfo, error) {
	a := in.ToDomain().Normalize()
	if err := a.Validate(); err != nil {
		return domain.AttendeeInfo{}, err
	}
	return a, nil
}

func receiptFor(b *domain.Booking, now time.Time) string {
	suffix := b.EventID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("rcpt_%d_%s", now.Unix(), suffix)
}

// finishSettlement records the attempt outcome on the span and in metrics
func finishSettlement(span trace.Span, path string, resp *dto.ConfirmBookingResponse, err error) {
	if err != nil {
		metrics.RecordSettlement(path, settlementResult(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	result := "confirmed"
	if resp.AlreadySettled {
		result = "already_settled"
	}
	span.SetAttributes(attribute.Bool("already_settled", resp.AlreadySettled))
	metrics.RecordSettlement(path, result)
	span.SetStatus(codes.Ok, "")
}

func settlementResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, domain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrHoldExpired):
		return "hold_expired"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, domain.ErrPaymentNotCaptured):
		return "not_captured"
	case domain.IsValidationError(err):
		return "invalid"
	default:
		return "error"
	}
}

package handler

import (
	"context"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/gateway"
	"github.com/prohmpiriya/eventhub-booking/internal/repository"
)

// MockReservationService is a mock implementation of ReservationService for testing
type MockReservationService struct {
	ReserveSeatsFunc       func(ctx context.Context, userID string, req *dto.ReserveSeatsRequest) (*dto.ReserveSeatsResponse, error)
	ReleaseBookingFunc     func(ctx context.Context, bookingID, userID string) (*dto.ReleaseBookingResponse, error)
	ExpireBookingFunc      func(ctx context.Context, booking *domain.Booking) (bool, error)
	ExpireReservationsFunc func(ctx context.Context, limit int) (int, error)
	CancelAndReleaseFunc   func(ctx context.Context, booking *domain.Booking, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*repository.TransitionResult, error)
	GetAvailabilityFunc    func(ctx context.Context, eventID string) (*dto.AvailabilityResponse, error)
}

func (m *MockReservationService) ReserveSeats(ctx context.Context, userID string, req *dto.ReserveSeatsRequest) (*dto.ReserveSeatsResponse, error) {
	if m.ReserveSeatsFunc != nil {
		return m.ReserveSeatsFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockReservationService) ReleaseBooking(ctx context.Context, bookingID, userID string) (*dto.ReleaseBookingResponse, error) {
	if m.ReleaseBookingFunc != nil {
		return m.ReleaseBookingFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockReservationService) ExpireBooking(ctx context.Context, booking *domain.Booking) (bool, error) {
	if m.ExpireBookingFunc != nil {
		return m.ExpireBookingFunc(ctx, booking)
	}
	return false, nil
}

func (m *MockReservationService) ExpireReservations(ctx context.Context, limit int) (int, error) {
	if m.ExpireReservationsFunc != nil {
		return m.ExpireReservationsFunc(ctx, limit)
	}
	return 0, nil
}

func (m *MockReservationService) CancelAndRelease(ctx context.Context, booking *domain.Booking, from []domain.BookingStatus, to domain.BookingStatus, reason domain.StatusReason) (*repository.TransitionResult, error) {
	if m.CancelAndReleaseFunc != nil {
		return m.CancelAndReleaseFunc(ctx, booking, from, to, reason)
	}
	return nil, nil
}

func (m *MockReservationService) GetAvailability(ctx context.Context, eventID string) (*dto.AvailabilityResponse, error) {
	if m.GetAvailabilityFunc != nil {
		return m.GetAvailabilityFunc(ctx, eventID)
	}
	return &dto.AvailabilityResponse{EventID: eventID}, nil
}

// MockBookingService is a mock implementation of BookingService for testing
type MockBookingService struct {
	GetBookingFunc      func(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error)
	GetUserBookingsFunc func(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error)
	CancelBookingFunc   func(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error)
	RefundBookingFunc   func(ctx context.Context, bookingID string) (*dto.BookingResponse, error)
}

func (m *MockBookingService) GetBooking(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, bookingID, userID, isAdmin)
	}
	return nil, nil
}

func (m *MockBookingService) GetUserBookings(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
	if m.GetUserBookingsFunc != nil {
		return m.GetUserBookingsFunc(ctx, userID, page, pageSize)
	}
	return nil, nil
}

func (m *MockBookingService) CancelBooking(ctx context.Context, bookingID, userID string, isAdmin bool) (*dto.BookingResponse, error) {
	if m.CancelBookingFunc != nil {
		return m.CancelBookingFunc(ctx, bookingID, userID, isAdmin)
	}
	return nil, nil
}

func (m *MockBookingService) RefundBooking(ctx context.Context, bookingID string) (*dto.BookingResponse, error) {
	if m.RefundBookingFunc != nil {
		return m.RefundBookingFunc(ctx, bookingID)
	}
	return nil, nil
}

// MockSettlementService is a mock implementation of SettlementService for testing
type MockSettlementService struct {
	GetPaymentConfigFunc func(ctx context.Context) *dto.PaymentConfigResponse
	CreateOrderFunc      func(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateOrderResponse, error)
	CreateIntentFunc     func(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateIntentResponse, error)
	CreateQRCodeFunc     func(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateQRCodeResponse, error)
	ConfirmFreeFunc      func(ctx context.Context, bookingID, userID string, req *dto.ConfirmFreeRequest) (*dto.ConfirmBookingResponse, error)
	ConfirmOrderFunc     func(ctx context.Context, bookingID, userID string, req *dto.ConfirmOrderRequest) (*dto.ConfirmBookingResponse, error)
	ConfirmIntentFunc    func(ctx context.Context, bookingID, userID string, req *dto.ConfirmIntentRequest) (*dto.ConfirmBookingResponse, error)
	HandleWebhookFunc    func(ctx context.Context, evt *gateway.WebhookEvent) (*dto.WebhookResponse, error)
}

func (m *MockSettlementService) GetPaymentConfig(ctx context.Context) *dto.PaymentConfigResponse {
	if m.GetPaymentConfigFunc != nil {
		return m.GetPaymentConfigFunc(ctx)
	}
	return &dto.PaymentConfigResponse{}
}

func (m *MockSettlementService) CreateOrder(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateOrderResponse, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockSettlementService) CreateIntent(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateIntentResponse, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockSettlementService) CreateQRCode(ctx context.Context, userID string, req *dto.CreatePaymentRequest) (*dto.CreateQRCodeResponse, error) {
	if m.CreateQRCodeFunc != nil {
		return m.CreateQRCodeFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockSettlementService) ConfirmFree(ctx context.Context, bookingID, userID string, req *dto.ConfirmFreeRequest) (*dto.ConfirmBookingResponse, error) {
	if m.ConfirmFreeFunc != nil {
		return m.ConfirmFreeFunc(ctx, bookingID, userID, req)
	}
	return nil, nil
}

func (m *MockSettlementService) ConfirmOrder(ctx context.Context, bookingID, userID string, req *dto.ConfirmOrderRequest) (*dto.ConfirmBookingResponse, error) {
	if m.ConfirmOrderFunc != nil {
		return m.ConfirmOrderFunc(ctx, bookingID, userID, req)
	}
	return nil, nil
}

func (m *MockSettlementService) ConfirmIntent(ctx context.Context, bookingID, userID string, req *dto.ConfirmIntentRequest) (*dto.ConfirmBookingResponse, error) {
	if m.ConfirmIntentFunc != nil {
		return m.ConfirmIntentFunc(ctx, bookingID, userID, req)
	}
	return nil, nil
}

func (m *MockSettlementService) HandleWebhook(ctx context.Context, evt *gateway.WebhookEvent) (*dto.WebhookResponse, error) {
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, evt)
	}
	return &dto.WebhookResponse{Received: true}, nil
}

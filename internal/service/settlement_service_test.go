package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/internal/dto"
	"github.com/prohmpiriya/eventhub-booking/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAttendee = dto.AttendeeInfo{Name: " Asha Rao ", Email: "Asha@Example.com", Phone: "+919800000000"}

type settlementFixture struct {
	*fixture
	svc      SettlementService
	notifier *mockNotifier
}

func newSettlementFixture(t *testing.T, kind domain.PricingKind, unit int64, orderGw gateway.OrderGateway, intentGw gateway.IntentGateway) *settlementFixture {
	t.Helper()
	f := newFixture(t, 5, kind, unit)
	n := &mockNotifier{}
	svc := NewSettlementService(SettlementDeps{
		BookingRepo:    f.bookings,
		EventRepo:      f.events,
		Reservations:   f.reservations,
		OrderGateway:   orderGw,
		IntentGateway:  intentGw,
		Notifier:       n,
		EventPublisher: f.publisher,
		Tasks:          f.tasks,
	}, &SettlementServiceConfig{Clock: f.clock.Now})
	return &settlementFixture{fixture: f, svc: svc, notifier: n}
}

func (f *settlementFixture) wait() {
	f.fixture.wait()
}

func TestConfirmFree(t *testing.T) {
	f := newSettlementFixture(t, domain.PricingFree, 0, nil, nil)
	resp := f.reserve(t, "u1", 2)
	held := f.ledger.Held(testEventID)

	got, err := f.svc.ConfirmFree(context.Background(), resp.BookingID, "u1", &dto.ConfirmFreeRequest{AttendeeInfo: testAttendee})
	require.NoError(t, err)
	f.wait()

	assert.False(t, got.AlreadySettled)
	assert.Equal(t, "confirmed", got.Booking.Status)
	assert.Equal(t, domain.ProviderFree, got.Booking.Payment.Provider)
	assert.Nil(t, got.Booking.HoldExpiry)
	require.NotNil(t, got.Booking.AttendeeInfo)
	assert.Equal(t, "Asha Rao", got.Booking.AttendeeInfo.Name)
	assert.Equal(t, "asha@example.com", got.Booking.AttendeeInfo.Email)

	// confirmation keeps the seats held
	assert.Equal(t, held, f.ledger.Held(testEventID))
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, f.publisher.count(domain.BookingEventConfirmed))
	assert.Equal(t, "Jazz Night", f.notifier.sent[0].EventTitle)
}

func TestConfirmFree_Redelivery(t *testing.T) {
	f := newSettlementFixture(t, domain.PricingFree, 0, nil, nil)
	resp := f.reserve(t, "u1", 1)
	req := &dto.ConfirmFreeRequest{AttendeeInfo: testAttendee}

	_, err := f.svc.ConfirmFree(context.Background(), resp.BookingID, "u1", req)
	require.NoError(t, err)

	again, err := f.svc.ConfirmFree(context.Background(), resp.BookingID, "u1", req)
	require.NoError(t, err)
	f.wait()

	assert.True(t, again.AlreadySettled)
	assert.Equal(t, "confirmed", again.Booking.Status)
	assert.Equal(t, int64(1), f.bookings.confirms.Load())
	assert.Equal(t, 1, f.notifier.count())
}

func TestConfirmFree_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.PricingKind
		unit    int64
		userID  string
		req     *dto.ConfirmFreeRequest
		advance time.Duration
		wantErr error
	}{
		{name: "paid event", kind: domain.PricingPaid, unit: 1000, userID: "u1", req: &dto.ConfirmFreeRequest{AttendeeInfo: testAttendee}, wantErr: domain.ErrEventNotFree},
		{name: "missing attendee", kind: domain.PricingFree, userID: "u1", req: &dto.ConfirmFreeRequest{}, wantErr: domain.ErrInvalidAttendeeInfo},
		{name: "bad email", kind: domain.PricingFree, userID: "u1", req: &dto.ConfirmFreeRequest{AttendeeInfo: dto.AttendeeInfo{Name: "A", Email: "nope"}}, wantErr: domain.ErrInvalidAttendeeInfo},
		{name: "not the owner", kind: domain.PricingFree, userID: "u2", req: &dto.ConfirmFreeRequest{AttendeeInfo: testAttendee}, wantErr: domain.ErrForbidden},
		{name: "hold expired", kind: domain.PricingFree, userID: "u1", req: &dto.ConfirmFreeRequest{AttendeeInfo: testAttendee}, advance: 11 * time.Minute, wantErr: domain.ErrHoldExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSettlementFixture(t, tt.kind, tt.unit, nil, nil)
			resp := f.reserve(t, "u1", 1)
			f.clock.Advance(tt.advance)

			_, err := f.svc.ConfirmFree(context.Background(), resp.BookingID, tt.userID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, f.bookings.get(resp.BookingID).IsConfirmed())
			assert.Equal(t, int64(0), f.bookings.confirms.Load())
		})
	}
}

func TestConfirmFree_ExpiredHoldReleasesSeats(t *testing.T) {
	f := newSettlementFixture(t, domain.PricingFree, 0, nil, nil)
	resp := f.reserve(t, "u1", 3)
	f.clock.Advance(11 * time.Minute)

	_, err := f.svc.ConfirmFree(context.Background(), resp.BookingID, "u1", &dto.ConfirmFreeRequest{AttendeeInfo: testAttendee})
	assert.ErrorIs(t, err, domain.ErrHoldExpired)
	assert.True(t, f.bookings.get(resp.BookingID).WasExpired())
	assert.Equal(t, 0, f.ledger.Held(testEventID))

	// asking again still reports the expiry
	_, err = f.svc.ConfirmFree(context.Background(), resp.BookingID, "u1", &dto.ConfirmFreeRequest{AttendeeInfo: testAttendee})
	assert.ErrorIs(t, err, domain.ErrHoldExpired)
	assert.Equal(t, int64(1), f.ledger.releases.Load())
}

func capturedPayment(amount int64) func(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	return func(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
		return &gateway.PaymentInfo{
			ID:       paymentID,
			OrderID:  "order_1",
			Amount:   amount,
			Currency: "INR",
			Status:   gateway.PaymentStatusCaptured,
			Method:   "upi",
		}, nil
	}
}

func orderProof(paymentID string) *dto.ConfirmOrderRequest {
	return &dto.ConfirmOrderRequest{
		OrderID:      "order_1",
		PaymentID:    paymentID,
		Signature:    gateway.OrderPaymentSignature(testOrderSecret, "order_1", paymentID),
		AttendeeInfo: testAttendee,
	}
}

func TestCreateOrder(t *testing.T) {
	gw := &mockOrderGateway{}
	f := newSettlementFixture(t, domain.PricingPaid, 50000, gw, nil)
	resp := f.reserve(t, "u1", 2)

	order, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.OrderID)
	assert.Equal(t, int64(100000), order.Amount)
	assert.Equal(t, "rzp_test_key", order.KeyID)
	assert.False(t, order.MockMode)

	stored := f.bookings.get(resp.BookingID)
	assert.Equal(t, domain.ProviderRazorpay, stored.Payment.Provider)
	assert.Equal(t, "order_1", stored.Payment.OrderID)

	// a retried checkout reuses the attached order
	again, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)
	assert.Equal(t, "order_1", again.OrderID)
	assert.Equal(t, int64(1), gw.createCalls.Load())

	_, err = f.svc.CreateOrder(context.Background(), "u2", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCreateOrder_Rejections(t *testing.T) {
	t.Run("free booking has nothing to pay", func(t *testing.T) {
		f := newSettlementFixture(t, domain.PricingFree, 0, &mockOrderGateway{}, nil)
		resp := f.reserve(t, "u1", 1)
		_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
		assert.ErrorIs(t, err, domain.ErrBookingNotPayable)
	})

	t.Run("expired hold", func(t *testing.T) {
		f := newSettlementFixture(t, domain.PricingPaid, 1000, &mockOrderGateway{}, nil)
		resp := f.reserve(t, "u1", 1)
		f.clock.Advance(time.Hour)
		_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
		assert.ErrorIs(t, err, domain.ErrHoldExpired)
		assert.Equal(t, 0, f.ledger.Held(testEventID))
	})

	t.Run("provider error", func(t *testing.T) {
		gw := &mockOrderGateway{CreateOrderFunc: func(ctx context.Context, req *gateway.OrderRequest) (*gateway.Order, error) {
			return nil, gateway.ErrProviderRequest
		}}
		f := newSettlementFixture(t, domain.PricingPaid, 1000, gw, nil)
		resp := f.reserve(t, "u1", 1)
		_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})

	t.Run("mock order outside production", func(t *testing.T) {
		f := newSettlementFixture(t, domain.PricingPaid, 1000, gateway.NewMockGateway(nil).AsOrderGateway(), nil)
		resp := f.reserve(t, "u1", 1)
		order, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
		require.NoError(t, err)
		assert.True(t, order.MockMode)
		assert.Contains(t, order.OrderID, "order_")
		assert.Equal(t, domain.ProviderMock, f.bookings.get(resp.BookingID).Payment.Provider)
	})

	t.Run("no provider in production", func(t *testing.T) {
		f := newSettlementFixture(t, domain.PricingPaid, 1000, nil, nil)
		resp := f.reserve(t, "u1", 1)
		_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})
}

func TestConfirmOrder(t *testing.T) {
	gw := &mockOrderGateway{FetchPaymentFunc: capturedPayment(50000)}
	f := newSettlementFixture(t, domain.PricingPaid, 25000, gw, nil)
	resp := f.reserve(t, "u1", 2)
	_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)

	got, err := f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", orderProof("pay_1"))
	require.NoError(t, err)
	f.wait()

	assert.Equal(t, "confirmed", got.Booking.Status)
	assert.Equal(t, domain.ProviderRazorpay, got.Booking.Payment.Provider)
	assert.Equal(t, "pay_1", got.Booking.Payment.PaymentID)
	assert.Equal(t, "order_1", got.Booking.Payment.OrderID)
	assert.Equal(t, "upi", got.Booking.Payment.Method)
	assert.Equal(t, string(domain.PaymentStatusCompleted), got.Booking.Payment.Status)
	assert.Equal(t, 2, f.ledger.Held(testEventID))
	assert.Equal(t, 1, f.notifier.count())
}

func TestConfirmOrder_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		fetch     func(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error)
		req       func() *dto.ConfirmOrderRequest
		wantErr   error
		wantFetch int64
	}{
		{
			name:  "tampered signature",
			fetch: capturedPayment(50000),
			req: func() *dto.ConfirmOrderRequest {
				r := orderProof("pay_1")
				r.Signature = gateway.OrderPaymentSignature(testOrderSecret, "order_1", "pay_2")
				return r
			},
			wantErr: domain.ErrSignatureMismatch,
		},
		{
			name:  "missing proof",
			fetch: capturedPayment(50000),
			req: func() *dto.ConfirmOrderRequest {
				return &dto.ConfirmOrderRequest{OrderID: "order_1", AttendeeInfo: testAttendee}
			},
			wantErr: domain.ErrInvalidPaymentProof,
		},
		{
			name:  "order from another booking",
			fetch: capturedPayment(50000),
			req: func() *dto.ConfirmOrderRequest {
				return &dto.ConfirmOrderRequest{
					OrderID:      "order_9",
					PaymentID:    "pay_1",
					Signature:    gateway.OrderPaymentSignature(testOrderSecret, "order_9", "pay_1"),
					AttendeeInfo: testAttendee,
				}
			},
			wantErr: domain.ErrInvalidPaymentProof,
		},
		{
			name:      "amount mismatch",
			fetch:     capturedPayment(100),
			req:       func() *dto.ConfirmOrderRequest { return orderProof("pay_1") },
			wantErr:   domain.ErrAmountMismatch,
			wantFetch: 1,
		},
		{
			name: "payment not captured",
			fetch: func(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
				return &gateway.PaymentInfo{ID: paymentID, OrderID: "order_1", Amount: 50000, Status: gateway.PaymentStatusCreated}, nil
			},
			req:       func() *dto.ConfirmOrderRequest { return orderProof("pay_1") },
			wantErr:   domain.ErrPaymentNotCaptured,
			wantFetch: 1,
		},
		{
			name: "provider down",
			fetch: func(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
				return nil, errors.New("timeout")
			},
			req:       func() *dto.ConfirmOrderRequest { return orderProof("pay_1") },
			wantErr:   domain.ErrProviderUnavailable,
			wantFetch: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockOrderGateway{FetchPaymentFunc: tt.fetch}
			f := newSettlementFixture(t, domain.PricingPaid, 25000, gw, nil)
			resp := f.reserve(t, "u1", 2)
			_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
			require.NoError(t, err)

			_, err = f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", tt.req())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, f.bookings.get(resp.BookingID).IsPending())
			assert.Equal(t, tt.wantFetch, gw.fetchCalls.Load())
			assert.Equal(t, 0, f.notifier.count())
		})
	}
}

func TestConfirmOrder_ConcurrentDeliveriesConfirmOnce(t *testing.T) {
	gw := &mockOrderGateway{FetchPaymentFunc: capturedPayment(25000)}
	f := newSettlementFixture(t, domain.PricingPaid, 25000, gw, nil)
	resp := f.reserve(t, "u1", 1)
	_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var fresh, settled atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", orderProof("pay_1"))
			if err != nil {
				return
			}
			if got.AlreadySettled {
				settled.Add(1)
			} else {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	f.wait()

	assert.Equal(t, int32(1), fresh.Load())
	assert.Equal(t, int32(7), settled.Load())
	assert.Equal(t, int64(1), f.bookings.confirms.Load())
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, f.publisher.count(domain.BookingEventConfirmed))
}

func TestConfirmOrder_MockMode(t *testing.T) {
	mock := gateway.NewMockGateway(nil)
	f := newSettlementFixture(t, domain.PricingPaid, 25000, mock.AsOrderGateway(), nil)
	resp := f.reserve(t, "u1", 1)
	order, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)

	// no proof: the in-memory provider completes checkout itself
	got, err := f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", &dto.ConfirmOrderRequest{AttendeeInfo: testAttendee})
	require.NoError(t, err)
	assert.True(t, got.MockMode)
	assert.Equal(t, domain.ProviderMock, got.Booking.Payment.Provider)
	assert.Equal(t, order.OrderID, got.Booking.Payment.OrderID)
	assert.Equal(t, "confirmed", got.Booking.Status)

	payment, err := mock.FetchPayment(context.Background(), got.Booking.Payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), payment.Amount)

	prod := newSettlementFixture(t, domain.PricingPaid, 25000, nil, nil)
	resp = prod.reserve(t, "u1", 1)
	_, err = prod.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", &dto.ConfirmOrderRequest{AttendeeInfo: testAttendee})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, prod.bookings.get(resp.BookingID).IsPending())
}

func TestConfirmOrder_MockModeWithoutOrder(t *testing.T) {
	f := newSettlementFixture(t, domain.PricingPaid, 25000, gateway.NewMockGateway(nil).AsOrderGateway(), nil)
	resp := f.reserve(t, "u1", 1)

	_, err := f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", &dto.ConfirmOrderRequest{AttendeeInfo: testAttendee})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentProof)
	assert.True(t, f.bookings.get(resp.BookingID).IsPending())
}

func TestConfirmIntent_MockMode(t *testing.T) {
	mock := gateway.NewMockGateway(nil)
	f := newSettlementFixture(t, domain.PricingPaid, 30000, nil, mock)
	resp := f.reserve(t, "u1", 2)

	intent, err := f.svc.CreateIntent(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)
	assert.True(t, intent.MockMode)

	got, err := f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{AttendeeInfo: testAttendee})
	require.NoError(t, err)
	assert.True(t, got.MockMode)
	assert.Equal(t, intent.IntentID, got.Booking.Payment.PaymentID)
	assert.Equal(t, "confirmed", got.Booking.Status)
}

func TestConfirm_SettledBookingRequiresProof(t *testing.T) {
	t.Run("order path", func(t *testing.T) {
		gw := &mockOrderGateway{FetchPaymentFunc: capturedPayment(25000)}
		f := newSettlementFixture(t, domain.PricingPaid, 25000, gw, nil)
		resp := f.reserve(t, "u1", 1)
		_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
		require.NoError(t, err)
		_, err = f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", orderProof("pay_1"))
		require.NoError(t, err)

		tests := []struct {
			name    string
			req     *dto.ConfirmOrderRequest
			wantErr error
		}{
			{
				name:    "garbage signature",
				req:     &dto.ConfirmOrderRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: "garbage", AttendeeInfo: testAttendee},
				wantErr: domain.ErrSignatureMismatch,
			},
			{
				name:    "no proof",
				req:     &dto.ConfirmOrderRequest{AttendeeInfo: testAttendee},
				wantErr: domain.ErrInvalidPaymentProof,
			},
			{
				name: "signed pair for another payment",
				req: &dto.ConfirmOrderRequest{
					OrderID:      "order_1",
					PaymentID:    "pay_2",
					Signature:    gateway.OrderPaymentSignature(testOrderSecret, "order_1", "pay_2"),
					AttendeeInfo: testAttendee,
				},
				wantErr: domain.ErrInvalidPaymentProof,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", tt.req)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			})
		}

		again, err := f.svc.ConfirmOrder(context.Background(), resp.BookingID, "u1", orderProof("pay_1"))
		require.NoError(t, err)
		assert.True(t, again.AlreadySettled)
		assert.Equal(t, int64(1), gw.fetchCalls.Load())
	})

	t.Run("intent path", func(t *testing.T) {
		gw := &mockIntentGateway{}
		f := newSettlementFixture(t, domain.PricingPaid, 30000, nil, gw)
		resp := f.reserve(t, "u1", 1)
		gw.GetIntentFunc = succeededIntent(resp.BookingID, 30000)
		_, err := f.svc.CreateIntent(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
		require.NoError(t, err)
		_, err = f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{IntentID: "pi_1", AttendeeInfo: testAttendee})
		require.NoError(t, err)

		_, err = f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{IntentID: "pi_other", AttendeeInfo: testAttendee})
		assert.ErrorIs(t, err, domain.ErrInvalidPaymentProof)

		_, err = f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{AttendeeInfo: testAttendee})
		assert.ErrorIs(t, err, domain.ErrInvalidPaymentProof)

		again, err := f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{IntentID: "pi_1", AttendeeInfo: testAttendee})
		require.NoError(t, err)
		assert.True(t, again.AlreadySettled)
	})
}

func TestCreateQRCode(t *testing.T) {
	var got *gateway.QRCodeRequest
	gw := &mockOrderGateway{CreateQRCodeFunc: func(ctx context.Context, req *gateway.QRCodeRequest) (*gateway.QRCode, error) {
		got = req
		return &gateway.QRCode{ID: "qr_1", ImageURL: "https://rzp.io/i/qr1", PaymentAmount: req.Amount, Status: "active"}, nil
	}}
	f := newSettlementFixture(t, domain.PricingPaid, 49900, gw, nil)
	resp := f.reserve(t, "u1", 2)

	qr, err := f.svc.CreateQRCode(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)
	assert.Equal(t, "qr_1", qr.QRCodeID)
	assert.Equal(t, "https://rzp.io/i/qr1", qr.ImageURL)
	assert.Equal(t, int64(99800), qr.Amount)
	assert.False(t, qr.MockMode)

	require.NotNil(t, got)
	booking := f.bookings.get(resp.BookingID)
	assert.Equal(t, int64(99800), got.Amount)
	assert.Equal(t, "Jazz Night", got.Name)
	assert.Equal(t, resp.BookingID, got.Notes["booking_id"])
	assert.True(t, got.CloseBy.Equal(*booking.HoldExpiry))
	assert.Equal(t, booking.HoldExpiry.Unix(), qr.ExpiresAt)

	// the QR code does not replace an order on the booking
	assert.Empty(t, booking.Payment.OrderID)
}

func TestCreateQRCode_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		gw      gateway.OrderGateway
		kind    domain.PricingKind
		advance time.Duration
		wantErr error
	}{
		{name: "no provider", kind: domain.PricingPaid, wantErr: domain.ErrProviderUnavailable},
		{name: "free booking", gw: &mockOrderGateway{}, kind: domain.PricingFree, wantErr: domain.ErrBookingNotPayable},
		{name: "expired hold", gw: &mockOrderGateway{}, kind: domain.PricingPaid, advance: time.Hour, wantErr: domain.ErrHoldExpired},
		{
			name: "provider error",
			gw: &mockOrderGateway{CreateQRCodeFunc: func(ctx context.Context, req *gateway.QRCodeRequest) (*gateway.QRCode, error) {
				return nil, gateway.ErrProviderRequest
			}},
			kind:    domain.PricingPaid,
			wantErr: domain.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := int64(1000)
			if tt.kind == domain.PricingFree {
				unit = 0
			}
			f := newSettlementFixture(t, tt.kind, unit, tt.gw, nil)
			resp := f.reserve(t, "u1", 1)
			f.clock.Advance(tt.advance)

			_, err := f.svc.CreateQRCode(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateQRCode_SettlesByWebhook(t *testing.T) {
	mock := gateway.NewMockGateway(nil)
	orders := mock.AsOrderGateway()
	f := newSettlementFixture(t, domain.PricingPaid, 49900, orders, nil)
	resp := f.reserve(t, "u1", 1)

	qr, err := f.svc.CreateQRCode(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)
	assert.True(t, qr.MockMode)

	payload, signature, err := mock.PayQRCode(qr.QRCodeID)
	require.NoError(t, err)
	evt, err := orders.ParseWebhook(payload, signature, "evt_qr_1")
	require.NoError(t, err)

	ack, err := f.svc.HandleWebhook(context.Background(), evt)
	require.NoError(t, err)
	f.wait()

	assert.Equal(t, OutcomeConfirmed, ack.Outcome)
	booking := f.bookings.get(resp.BookingID)
	assert.True(t, booking.IsConfirmed())
	assert.Equal(t, evt.PaymentID, booking.Payment.PaymentID)
	assert.Equal(t, "upi", booking.Payment.Method)
	assert.Equal(t, 1, f.notifier.count())
}

func succeededIntent(bookingID string, amount int64) func(ctx context.Context, intentID string) (*gateway.Intent, error) {
	return func(ctx context.Context, intentID string) (*gateway.Intent, error) {
		return &gateway.Intent{
			ID:       intentID,
			Amount:   amount,
			Currency: "INR",
			Status:   gateway.IntentStatusSucceeded,
			Metadata: map[string]string{"booking_id": bookingID},
		}, nil
	}
}

func TestCreateAndConfirmIntent(t *testing.T) {
	gw := &mockIntentGateway{}
	f := newSettlementFixture(t, domain.PricingPaid, 30000, nil, gw)
	resp := f.reserve(t, "u1", 1)
	gw.GetIntentFunc = succeededIntent(resp.BookingID, 30000)

	intent, err := f.svc.CreateIntent(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.IntentID)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
	assert.Equal(t, int64(30000), intent.Amount)

	got, err := f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{IntentID: "pi_1", AttendeeInfo: testAttendee})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", got.Booking.Status)
	assert.Equal(t, domain.ProviderStripe, got.Booking.Payment.Provider)
	assert.Equal(t, "card", got.Booking.Payment.Method)
	assert.Equal(t, "pi_1", got.Booking.Payment.PaymentID)
}

func TestConfirmIntent_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		intent  func(bookingID string) func(ctx context.Context, intentID string) (*gateway.Intent, error)
		wantErr error
	}{
		{
			name: "still processing",
			intent: func(bookingID string) func(ctx context.Context, intentID string) (*gateway.Intent, error) {
				return func(ctx context.Context, intentID string) (*gateway.Intent, error) {
					return &gateway.Intent{ID: intentID, Amount: 30000, Status: gateway.IntentStatusProcessing, Metadata: map[string]string{"booking_id": bookingID}}, nil
				}
			},
			wantErr: domain.ErrPaymentNotCaptured,
		},
		{
			name: "intent for another booking",
			intent: func(bookingID string) func(ctx context.Context, intentID string) (*gateway.Intent, error) {
				return succeededIntent("other", 30000)
			},
			wantErr: domain.ErrInvalidPaymentProof,
		},
		{
			name: "amount differs",
			intent: func(bookingID string) func(ctx context.Context, intentID string) (*gateway.Intent, error) {
				return succeededIntent(bookingID, 100)
			},
			wantErr: domain.ErrAmountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockIntentGateway{}
			f := newSettlementFixture(t, domain.PricingPaid, 30000, nil, gw)
			resp := f.reserve(t, "u1", 1)
			gw.GetIntentFunc = tt.intent(resp.BookingID)

			_, err := f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{IntentID: "pi_1", AttendeeInfo: testAttendee})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, f.bookings.get(resp.BookingID).IsPending())
		})
	}
}

func TestGetPaymentConfig(t *testing.T) {
	f := newSettlementFixture(t, domain.PricingPaid, 1000, &mockOrderGateway{}, &mockIntentGateway{})
	cfg := f.svc.GetPaymentConfig(context.Background())
	assert.True(t, cfg.Razorpay.Enabled)
	assert.Equal(t, "rzp_test_key", cfg.Razorpay.KeyID)
	assert.True(t, cfg.Stripe.Enabled)
	assert.Equal(t, "pk_test", cfg.Stripe.PublishableKey)
	assert.False(t, cfg.MockMode)

	bare := newSettlementFixture(t, domain.PricingPaid, 1000, nil, nil)
	cfg = bare.svc.GetPaymentConfig(context.Background())
	assert.False(t, cfg.Razorpay.Enabled)
	assert.False(t, cfg.MockMode)

	mock := gateway.NewMockGateway(nil)
	simulated := newSettlementFixture(t, domain.PricingPaid, 1000, mock.AsOrderGateway(), mock)
	cfg = simulated.svc.GetPaymentConfig(context.Background())
	assert.True(t, cfg.Razorpay.Enabled)
	assert.True(t, cfg.Stripe.Enabled)
	assert.True(t, cfg.MockMode)
}

func paidWebhook(id, bookingID string, amount int64) *gateway.WebhookEvent {
	return &gateway.WebhookEvent{
		Provider:  domain.ProviderStripe,
		ID:        id,
		Type:      "payment_intent.succeeded",
		Kind:      gateway.WebhookPaymentSucceeded,
		BookingID: bookingID,
		PaymentID: "pi_1",
		Amount:    amount,
		Currency:  "INR",
	}
}

func TestHandleWebhook_ConfirmsOnceAndDedupes(t *testing.T) {
	f := newSettlementFixture(t, domain.PricingPaid, 30000, nil, &mockIntentGateway{})
	resp := f.reserve(t, "u1", 1)

	got, err := f.svc.HandleWebhook(context.Background(), paidWebhook("evt_1", resp.BookingID, 30000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, got.Outcome)

	stored := f.bookings.get(resp.BookingID)
	assert.True(t, stored.IsConfirmed())
	assert.Equal(t, "pi_1", stored.Payment.OrderID)

	dup, err := f.svc.HandleWebhook(context.Background(), paidWebhook("evt_1", resp.BookingID, 30000))
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, OutcomeDuplicate, dup.Outcome)

	other, err := f.svc.HandleWebhook(context.Background(), paidWebhook("evt_2", resp.BookingID, 30000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySettled, other.Outcome)

	// the buyer's own confirmation afterwards is a no-op success
	confirmed, err := f.svc.ConfirmIntent(context.Background(), resp.BookingID, "u1", &dto.ConfirmIntentRequest{IntentID: "pi_1", AttendeeInfo: testAttendee})
	require.NoError(t, err)
	assert.True(t, confirmed.AlreadySettled)

	f.wait()
	assert.Equal(t, int64(1), f.bookings.confirms.Load())
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandleWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		advance     time.Duration
		event       func(bookingID string) *gateway.WebhookEvent
		wantOutcome string
		wantStatus  domain.BookingStatus
		wantHeld    int
	}{
		{
			name:        "ignored type",
			event:       func(id string) *gateway.WebhookEvent { return &gateway.WebhookEvent{Provider: domain.ProviderStripe, ID: "e", Kind: gateway.WebhookIgnored} },
			wantOutcome: OutcomeIgnored,
			wantStatus:  domain.BookingStatusPending,
			wantHeld:    2,
		},
		{
			name:        "unknown booking",
			event:       func(id string) *gateway.WebhookEvent { return paidWebhook("e", "missing", 60000) },
			wantOutcome: OutcomeUnknownBooking,
			wantStatus:  domain.BookingStatusPending,
			wantHeld:    2,
		},
		{
			name:        "amount mismatch",
			event:       func(id string) *gateway.WebhookEvent { return paidWebhook("e", id, 1) },
			wantOutcome: OutcomeAmountMismatch,
			wantStatus:  domain.BookingStatusPending,
			wantHeld:    2,
		},
		{
			name: "payment failed",
			event: func(id string) *gateway.WebhookEvent {
				return &gateway.WebhookEvent{Provider: domain.ProviderStripe, ID: "e", Kind: gateway.WebhookPaymentFailed, BookingID: id, PaymentID: "pi_1", FailureReason: "card_declined"}
			},
			wantOutcome: OutcomePaymentFailed,
			wantStatus:  domain.BookingStatusPending,
			wantHeld:    2,
		},
		{
			name:        "hold expired before payment arrived",
			advance:     15 * time.Minute,
			event:       func(id string) *gateway.WebhookEvent { return paidWebhook("e", id, 60000) },
			wantOutcome: OutcomeHoldExpired,
			wantStatus:  domain.BookingStatusCancelled,
			wantHeld:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSettlementFixture(t, domain.PricingPaid, 30000, nil, &mockIntentGateway{})
			resp := f.reserve(t, "u1", 2)
			f.clock.Advance(tt.advance)

			got, err := f.svc.HandleWebhook(context.Background(), tt.event(resp.BookingID))
			require.NoError(t, err)
			assert.True(t, got.Received)
			assert.Equal(t, tt.wantOutcome, got.Outcome)
			assert.Equal(t, tt.wantStatus, f.bookings.get(resp.BookingID).Status)
			assert.Equal(t, tt.wantHeld, f.ledger.Held(testEventID))
		})
	}
}

func TestHandleWebhook_PaymentFailedMarksPayment(t *testing.T) {
	f := newSettlementFixture(t, domain.PricingPaid, 30000, nil, &mockIntentGateway{})
	resp := f.reserve(t, "u1", 1)

	_, err := f.svc.HandleWebhook(context.Background(), &gateway.WebhookEvent{
		Provider: domain.ProviderStripe, ID: "e", Kind: gateway.WebhookPaymentFailed, BookingID: resp.BookingID, PaymentID: "pi_9",
	})
	require.NoError(t, err)

	stored := f.bookings.get(resp.BookingID)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Payment.Status)
	assert.Equal(t, "pi_9", stored.Payment.PaymentID)
}

func TestHandleWebhook_FindsBookingByOrder(t *testing.T) {
	gw := &mockOrderGateway{}
	f := newSettlementFixture(t, domain.PricingPaid, 30000, gw, nil)
	resp := f.reserve(t, "u1", 1)
	_, err := f.svc.CreateOrder(context.Background(), "u1", &dto.CreatePaymentRequest{BookingID: resp.BookingID})
	require.NoError(t, err)

	got, err := f.svc.HandleWebhook(context.Background(), &gateway.WebhookEvent{
		Provider:  domain.ProviderRazorpay,
		ID:        "rzp_evt_1",
		Type:      "payment.captured",
		Kind:      gateway.WebhookPaymentSucceeded,
		PaymentID: "pay_7",
		OrderID:   "order_1",
		Amount:    30000,
		Method:    "card",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, got.Outcome)

	stored := f.bookings.get(resp.BookingID)
	assert.True(t, stored.IsConfirmed())
	assert.Equal(t, "pay_7", stored.Payment.PaymentID)
	assert.Equal(t, "order_1", stored.Payment.OrderID)
}

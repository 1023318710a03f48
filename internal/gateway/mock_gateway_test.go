package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGateway_OrderFlow(t *testing.T) {
	gw := NewMockGateway(nil)
	ctx := context.Background()

	order, err := gw.CreateOrder(ctx, &OrderRequest{Amount: 1000, Currency: "INR"})
	require.NoError(t, err)

	paymentID, signature, err := gw.Pay(order.ID, "upi")
	require.NoError(t, err)
	assert.True(t, gw.VerifyPaymentSignature(order.ID, paymentID, signature))
	assert.False(t, gw.VerifyPaymentSignature(order.ID, paymentID, signature[1:]))

	payment, err := gw.FetchPayment(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), payment.Amount)
	assert.True(t, payment.IsSuccessful())

	_, _, err = gw.Pay("order_missing", "card")
	assert.Error(t, err)
}

func TestMockGateway_IntentFlow(t *testing.T) {
	gw := NewMockGateway(nil)
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, &IntentRequest{Amount: 500, Currency: "USD"})
	require.NoError(t, err)
	assert.NotEmpty(t, intent.ClientSecret)
	assert.False(t, intent.Succeeded())

	require.NoError(t, gw.SetIntentStatus(intent.ID, IntentStatusSucceeded))
	got, err := gw.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, got.Succeeded())
	assert.Equal(t, "card", got.Method)

	require.NoError(t, gw.Refund(ctx, intent.ID, 500))
	got, err = gw.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusRefunded, got.Status)
}

func TestMockGateway_Webhooks(t *testing.T) {
	gw := NewMockGateway(nil)

	payload := []byte(intentSucceededPayload)
	event, err := gw.ParseWebhook(payload, gw.SignWebhook(payload))
	require.NoError(t, err)
	assert.Equal(t, "mock", event.Provider)
	assert.Equal(t, WebhookPaymentSucceeded, event.Kind)

	_, err = gw.ParseWebhook(payload, "bad")
	assert.ErrorIs(t, err, ErrInvalidWebhookSignature)

	orders := gw.AsOrderGateway()
	rzp := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","notes":{"booking_id":"b-1"}}}}}`)
	event, err = orders.ParseWebhook(rzp, gw.SignWebhook(rzp), "evt_9")
	require.NoError(t, err)
	assert.Equal(t, "b-1", event.BookingID)
	assert.Equal(t, "evt_9", event.ID)
}

func TestMockGateway_RefundPayment(t *testing.T) {
	gw := NewMockGateway(nil)
	ctx := context.Background()

	order, err := gw.CreateOrder(ctx, &OrderRequest{Amount: 1000, Currency: "INR"})
	require.NoError(t, err)
	paymentID, _, err := gw.Pay(order.ID, "upi")
	require.NoError(t, err)

	assert.ErrorIs(t, gw.Refund(ctx, paymentID, 999), ErrProviderRequest)
	require.NoError(t, gw.Refund(ctx, paymentID, 1000))

	payment, err := gw.FetchPayment(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusRefunded, payment.Status)

	assert.ErrorIs(t, gw.Refund(ctx, "pay_missing", 1000), ErrProviderRequest)
}

func TestMockGateway_QRCode(t *testing.T) {
	gw := NewMockGateway(nil)
	orders := gw.AsOrderGateway()

	qr, err := orders.CreateQRCode(context.Background(), &QRCodeRequest{
		Amount:  2500,
		CloseBy: time.Now().Add(10 * time.Minute),
		Notes:   map[string]string{"booking_id": "b-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "active", qr.Status)
	assert.NotEmpty(t, qr.ImageURL)

	payload, signature, err := gw.PayQRCode(qr.ID)
	require.NoError(t, err)

	event, err := orders.ParseWebhook(payload, signature, "")
	require.NoError(t, err)
	assert.Equal(t, WebhookPaymentSucceeded, event.Kind)
	assert.Equal(t, "b-3", event.BookingID)
	assert.Equal(t, int64(2500), event.Amount)

	// single use
	_, _, err = gw.PayQRCode(qr.ID)
	assert.Error(t, err)
}

func TestIsSimulated(t *testing.T) {
	gw := NewMockGateway(nil)
	assert.True(t, IsSimulated(gw))
	assert.True(t, IsSimulated(gw.AsOrderGateway()))
	assert.False(t, IsSimulated(&RazorpayGateway{}))
	assert.False(t, IsSimulated(nil))
}

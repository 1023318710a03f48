package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "event:abc", Channel("abc"))

	id, ok := EventIDFromChannel("event:abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = EventIDFromChannel("booking:abc")
	assert.False(t, ok)

	_, ok = EventIDFromChannel("event:")
	assert.False(t, ok)
}

func TestMessageEncoding(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "seats updated includes zero",
			msg:  SeatsUpdated("evt-1", 0),
			want: `{"type":"seats:updated","eventId":"evt-1","availableSeats":0}`,
		},
		{
			name: "booking created",
			msg:  BookingCreated("evt-1", "bk-1", 3),
			want: `{"type":"booking:created","eventId":"evt-1","bookingId":"bk-1","numberOfTickets":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := encode(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestEncode_RequiresEventID(t *testing.T) {
	_, err := encode(&Message{Type: TypeSeatsUpdated})
	assert.Error(t, err)

	_, err = encode(nil)
	assert.Error(t, err)
}

func TestEventIDFromPayload(t *testing.T) {
	id, ok := eventIDFromPayload([]byte(`{"type":"seats:updated","eventId":"evt-9","availableSeats":4}`))
	assert.True(t, ok)
	assert.Equal(t, "evt-9", id)

	_, ok = eventIDFromPayload([]byte(`not json`))
	assert.False(t, ok)

	_, ok = eventIDFromPayload([]byte(`{"type":"seats:updated"}`))
	assert.False(t, ok)
}

func TestLocalBroadcaster_DeliversToSubscribers(t *testing.T) {
	hub := NewHub(4)
	b := NewLocalBroadcaster(hub)

	sub, leave := hub.Subscribe("evt-1")
	defer leave()
	other, leaveOther := hub.Subscribe("evt-2")
	defer leaveOther()

	require.NoError(t, b.Publish(context.Background(), SeatsUpdated("evt-1", 7)))

	select {
	case payload := <-sub.C:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, TypeSeatsUpdated, msg.Type)
		require.NotNil(t, msg.AvailableSeats)
		assert.Equal(t, 7, *msg.AvailableSeats)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message")
	}

	select {
	case <-other.C:
		t.Fatal("message leaked to another event")
	default:
	}
}

func TestNoOpBroadcaster(t *testing.T) {
	b := NewNoOpBroadcaster()
	assert.NoError(t, b.Publish(context.Background(), SeatsUpdated("evt-1", 1)))
	assert.NoError(t, b.Close())
}

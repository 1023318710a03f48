package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message types pushed to event viewers
const (
	TypeSeatsUpdated   = "seats:updated"
	TypeBookingCreated = "booking:created"
)

// ChannelPrefix scopes every channel to one event
const ChannelPrefix = "event:"

// Message is the payload delivered on an event channel
type Message struct {
	Type            string `json:"type"`
	EventID         string `json:"eventId"`
	AvailableSeats  *int   `json:"availableSeats,omitempty"`
	BookingID       string `json:"bookingId,omitempty"`
	NumberOfTickets int    `json:"numberOfTickets,omitempty"`
}

// SeatsUpdated builds a seats:updated message
func SeatsUpdated(eventID string, available int) *Message {
	return &Message{Type: TypeSeatsUpdated, EventID: eventID, AvailableSeats: &available}
}

// BookingCreated builds a booking:created message
func BookingCreated(eventID, bookingID string, n int) *Message {
	return &Message{Type: TypeBookingCreated, EventID: eventID, BookingID: bookingID, NumberOfTickets: n}
}

// Channel returns the per-event channel name
func Channel(eventID string) string {
	return ChannelPrefix + eventID
}

// EventIDFromChannel extracts the event id from a channel name
func EventIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, ChannelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, ChannelPrefix)
	return id, id != ""
}

// Broadcaster delivers messages to every subscriber of an event's channel.
// Delivery is best effort: no persistence, no replay.
type Broadcaster interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

func encode(msg *Message) ([]byte, error) {
	if msg == nil || msg.EventID == "" {
		return nil, fmt.Errorf("broadcast message requires an event id")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal broadcast message: %w", err)
	}
	return b, nil
}

// NoOpBroadcaster drops every message
type NoOpBroadcaster struct{}

// NewNoOpBroadcaster creates a new no-op broadcaster
func NewNoOpBroadcaster() *NoOpBroadcaster {
	return &NoOpBroadcaster{}
}

// Publish is a no-op
func (b *NoOpBroadcaster) Publish(ctx context.Context, msg *Message) error {
	return nil
}

// Close is a no-op
func (b *NoOpBroadcaster) Close() error {
	return nil
}

// LocalBroadcaster delivers straight to an in-process hub
type LocalBroadcaster struct {
	hub *Hub
}

// NewLocalBroadcaster creates a broadcaster that only reaches this instance's viewers
func NewLocalBroadcaster(hub *Hub) *LocalBroadcaster {
	return &LocalBroadcaster{hub: hub}
}

// Publish dispatches to the hub
func (b *LocalBroadcaster) Publish(ctx context.Context, msg *Message) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	b.hub.Dispatch(msg.EventID, payload)
	return nil
}

// Close is a no-op
func (b *LocalBroadcaster) Close() error {
	return nil
}

var (
	_ Broadcaster = (*NoOpBroadcaster)(nil)
	_ Broadcaster = (*LocalBroadcaster)(nil)
)

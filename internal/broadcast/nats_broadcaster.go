package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"go.uber.org/zap"
)

// DefaultNATSSubject carries seat updates for all events; NATS Streaming has no wildcard subscriptions
const DefaultNATSSubject = "eventhub.availability"

// NATSConfig holds NATS Streaming connection settings
type NATSConfig struct {
	URL       string
	ClusterID string
	ClientID  string
	Subject   string
}

// NATSBroadcaster publishes availability messages over NATS Streaming and relays them to a hub
type NATSBroadcaster struct {
	conn    stan.Conn
	subject string
	sub     stan.Subscription
}

// NewNATSBroadcaster connects to NATS Streaming with an instance-unique client id
func NewNATSBroadcaster(cfg *NATSConfig) (*NATSBroadcaster, error) {
	if cfg == nil || cfg.URL == "" || cfg.ClusterID == "" {
		return nil, fmt.Errorf("nats url and cluster id are required")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultNATSSubject
	}

	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8])
	conn, err := stan.Connect(cfg.ClusterID, clientID, stan.NatsURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}

	logger.Get().Info("Connected to NATS Streaming",
		zap.String("url", cfg.URL),
		zap.String("cluster_id", cfg.ClusterID),
		zap.String("client_id", clientID),
	)

	return &NATSBroadcaster{conn: conn, subject: subject}, nil
}

// Publish sends the message on the shared availability subject
func (b *NATSBroadcaster) Publish(ctx context.Context, msg *Message) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", b.subject, err)
	}
	return nil
}

// Relay feeds every message on the subject into the hub; only new messages are delivered
func (b *NATSBroadcaster) Relay(hub *Hub) error {
	sub, err := b.conn.Subscribe(b.subject, func(m *stan.Msg) {
		eventID, ok := eventIDFromPayload(m.Data)
		if !ok {
			logger.Get().Warn("dropping availability message without event id")
			return
		}
		hub.Dispatch(eventID, m.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

// Close unsubscribes and closes the connection
func (b *NATSBroadcaster) Close() error {
	if b.sub != nil {
		_ = b.sub.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func eventIDFromPayload(data []byte) (string, bool) {
	var envelope struct {
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.EventID == "" {
		return "", false
	}
	return envelope.EventID, true
}

var _ Broadcaster = (*NATSBroadcaster)(nil)

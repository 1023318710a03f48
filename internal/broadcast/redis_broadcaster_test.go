package broadcast

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	pkgredis "github.com/prohmpiriya/eventhub-booking/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBroadcaster_RelayToHub_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := pkgredis.DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("TEST_REDIS_PORT")); err == nil {
		cfg.Port = port
	}
	cfg.Password = os.Getenv("TEST_REDIS_PASSWORD")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgredis.NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	hub := NewHub(4)
	sub, leave := hub.Subscribe("evt-relay")
	defer leave()

	relayCtx, stopRelay := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- RunRedisRelay(relayCtx, client, hub) }()

	b := NewRedisBroadcaster(client)

	// the relay subscribes asynchronously; publish until it is picked up
	var payload []byte
	deadline := time.After(5 * time.Second)
loop:
	for {
		require.NoError(t, b.Publish(ctx, SeatsUpdated("evt-relay", 12)))
		select {
		case payload = <-sub.C:
			break loop
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("relay did not deliver message")
		}
	}

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "evt-relay", msg.EventID)
	require.NotNil(t, msg.AvailableSeats)
	assert.Equal(t, 12, *msg.AvailableSeats)

	stopRelay()
	assert.NoError(t, <-done)
}

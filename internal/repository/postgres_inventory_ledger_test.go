package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresInventoryLedger_HoldRelease_Integration(t *testing.T) {
	pool := getPostgresPool(t)
	events := NewPostgresEventRepository(pool)
	ledger := NewPostgresInventoryLedger(pool)
	ctx := context.Background()

	event := createTestEvent(t, events, 5, domain.PricingPaid, 10000)

	available, err := ledger.Hold(ctx, event.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, available)

	_, err = ledger.Hold(ctx, event.ID, 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)

	available, err = ledger.Available(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, available, "failed hold must leave held unchanged")

	available, err = ledger.Release(ctx, event.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, available, "release clamps at zero")

	_, err = ledger.Hold(ctx, uuid.New().String(), 1)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestPostgresInventoryLedger_ConcurrentHolds_Integration(t *testing.T) {
	pool := getPostgresPool(t)
	events := NewPostgresEventRepository(pool)
	ledger := NewPostgresInventoryLedger(pool)
	ctx := context.Background()

	const seats = 10
	const buyers = 50
	event := createTestEvent(t, events, seats, domain.PricingPaid, 10000)

	var (
		wg        sync.WaitGroup
		succeeded int32
		rejected  int32
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Hold(ctx, event.ID, 1)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, domain.ErrInsufficientCapacity):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(seats), succeeded)
	assert.Equal(t, int32(buyers-seats), rejected)

	stored, err := events.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, seats, stored.SeatsHeld)
	assert.Equal(t, 0, stored.Available())
}

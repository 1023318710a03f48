package service

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/eventhub-booking/internal/broadcast"
	"github.com/prohmpiriya/eventhub-booking/internal/metrics"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultSideEffectTimeout = 10 * time.Second
	defaultSideEffectLimit   = 512
)

// BackgroundTasksConfig bounds best-effort work started off the request path
type BackgroundTasksConfig struct {
	// Limit is the number of tasks that may run at once
	Limit int
	// Timeout caps each task
	Timeout time.Duration
}

// BackgroundTasks runs broadcasts, Kafka publishes and notifications after the
// request has returned. At most Limit run at once; work submitted while every
// slot is busy is dropped, logged and counted. Failures are logged only.
type BackgroundTasks struct {
	wg      sync.WaitGroup
	slots   chan struct{}
	timeout time.Duration
}

// NewBackgroundTasks creates a task runner shared by the services
func NewBackgroundTasks(cfg *BackgroundTasksConfig) *BackgroundTasks {
	limit := defaultSideEffectLimit
	timeout := defaultSideEffectTimeout
	if cfg != nil {
		if cfg.Limit > 0 {
			limit = cfg.Limit
		}
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
	}
	return &BackgroundTasks{
		slots:   make(chan struct{}, limit),
		timeout: timeout,
	}
}

func (t *BackgroundTasks) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	select {
	case t.slots <- struct{}{}:
	default:
		metrics.RecordSideEffectDropped(name)
		logger.Get().Warn("side effect dropped, background tasks saturated",
			zap.String("task", name),
			zap.Int("limit", cap(t.slots)),
		)
		return
	}

	t.wg.Add(1)
	metrics.AddSideEffectsInFlight(1)
	go func() {
		defer func() {
			metrics.AddSideEffectsInFlight(-1)
			<-t.slots
			t.wg.Done()
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Get().Warn("side effect failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Drain waits for running tasks until ctx is done. Call it after the HTTP
// server and workers have stopped submitting work.
func (t *BackgroundTasks) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Get().Warn("background tasks still running at shutdown", zap.Int("in_flight", len(t.slots)))
		return ctx.Err()
	}
}

// wait blocks until every started task has finished
func (t *BackgroundTasks) wait() {
	t.wg.Wait()
}

// availabilityPublisher pushes seat counts to event viewers without blocking ledger callers
type availabilityPublisher struct {
	broadcaster broadcast.Broadcaster
	tasks       *BackgroundTasks
}

func newAvailabilityPublisher(b broadcast.Broadcaster, tasks *BackgroundTasks) *availabilityPublisher {
	if b == nil {
		b = broadcast.NewNoOpBroadcaster()
	}
	return &availabilityPublisher{broadcaster: b, tasks: tasks}
}

func (p *availabilityPublisher) seatsUpdated(ctx context.Context, eventID string, available int) {
	metrics.SetAvailableSeats(eventID, available)
	p.publish(ctx, broadcast.SeatsUpdated(eventID, available))
}

func (p *availabilityPublisher) bookingCreated(ctx context.Context, eventID, bookingID string, n int) {
	p.publish(ctx, broadcast.BookingCreated(eventID, bookingID, n))
}

func (p *availabilityPublisher) publish(ctx context.Context, msg *broadcast.Message) {
	p.tasks.run(ctx, "broadcast."+msg.Type, func(ctx context.Context) error {
		if err := p.broadcaster.Publish(ctx, msg); err != nil {
			metrics.RecordBroadcast("error")
			return err
		}
		metrics.RecordBroadcast("ok")
		return nil
	})
}

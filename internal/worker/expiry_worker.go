package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"go.uber.org/zap"
)

// Expirer releases lapsed holds in bounded batches
type Expirer interface {
	ExpireReservations(ctx context.Context, limit int) (int, error)
}

// ExpiryWorkerConfig contains configuration for the expiry worker
type ExpiryWorkerConfig struct {
	// ScanInterval is the interval between sweeps for lapsed holds
	ScanInterval time.Duration
	// BatchSize is the number of bookings to expire in each sweep
	BatchSize int
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
	}
}

// ExpiryWorker periodically sweeps pending bookings whose hold has lapsed.
// Reads expire lazily as well, so the sweep only bounds how long an
// untouched hold keeps its seats.
type ExpiryWorker struct {
	expirer Expirer
	config  *ExpiryWorkerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalExpired     int64
	totalFailedScans int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(expirer Expirer, config *ExpiryWorkerConfig) *ExpiryWorker {
	if config == nil {
		config = DefaultExpiryWorkerConfig()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultExpiryWorkerConfig().ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultExpiryWorkerConfig().BatchSize
	}

	return &ExpiryWorker{
		expirer: expirer,
		config:  config,
		log:     logger.Get(),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the expiry worker
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting expiry worker",
		zap.Duration("interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.run(ctx)

	return nil
}

// Stop stops the expiry worker and waits for an in-flight sweep
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("stopping expiry worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("expiry worker stopped")
}

func (w *ExpiryWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	count, err := w.expirer.ExpireReservations(ctx, w.config.BatchSize)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastScanTime = time.Now()

	if err != nil {
		w.totalFailedScans++
		w.log.Error("failed to sweep expired holds", zap.Error(err))
		return
	}

	w.lastExpiredCount = count
	w.totalExpired += int64(count)
	if count > 0 {
		w.log.Info("expired lapsed holds", zap.Int("count", count))
	}
}

// GetStats returns worker statistics
func (w *ExpiryWorker) GetStats() *ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpiryWorkerStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired,
		TotalFailedScans: w.totalFailedScans,
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpiryWorkerStats contains worker statistics
type ExpiryWorkerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	TotalFailedScans int64     `json:"total_failed_scans"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}

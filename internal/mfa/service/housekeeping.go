package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store"
)

// HousekeepingService periodically cleans up expired database records
// to prevent unbounded growth of otp_codes and abandoned mfa_factors.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// PendingWindow is how long a PENDING factor may exist before it is
	// considered abandoned and removed.
	PendingWindow time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 1 hour; a
// non-positive pending window defaults to 24 hours.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval, pendingWindow time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if pendingWindow <= 0 {
		pendingWindow = 24 * time.Hour
	}

	return &HousekeepingService{
		Store:         store,
		Logger:        logger,
		Interval:      interval,
		PendingWindow: pendingWindow,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

// run is the main background worker loop.
func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the actual deletion of expired records.
// Each deletion is independent - failures in one won't stop the others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	now := time.Now()
	s.Logger.Info("starting housekeeping cleanup")

	var totalDeleted int

	// Clean expired ephemeral OTP codes
	if err := s.Store.OTPCodes().DeleteExpiredOTPs(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired otp codes", "error", err)
	} else {
		s.Logger.Debug("deleted expired otp codes")
		totalDeleted++
	}

	// Clean abandoned PENDING factor setups
	if err := s.Store.Factors().DeleteStalePendingFactors(ctx, now.Add(-s.PendingWindow)); err != nil {
		s.Logger.Error("failed to delete stale pending factors", "error", err)
	} else {
		s.Logger.Debug("deleted stale pending factors")
		totalDeleted++
	}

	s.Logger.Info("housekeeping cleanup completed", "successful_cleanups", totalDeleted)
}

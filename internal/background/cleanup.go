package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc removes expired entries and returns how many it removed
type SweepFunc func(ctx context.Context) (int, error)

// CleanupManager runs one sweep task on a fixed interval until stopped
type CleanupManager struct {
	name     string
	sweep    SweepFunc
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(name string, sweep SweepFunc, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		name:     name,
		sweep:    sweep,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep every interval. It blocks until Stop is called or ctx is done.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped", slog.String("task", cm.name))
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled", slog.String("task", cm.name))
			return
		}
	}
}

// RunOnce runs a single sweep. A panicking sweep is logged and does not stop the manager.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			cm.logger.Error("cleanup task panicked", slog.String("task", cm.name), slog.Any("panic", rec))
		}
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := cm.sweep(sweepCtx)
	if err != nil {
		cm.logger.Error("cleanup task failed", slog.String("task", cm.name), slog.Any("error", err))
		return
	}

	if removed > 0 {
		cm.logger.Debug("cleanup completed", slog.String("task", cm.name), slog.Int("removed", removed))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

package jobs

import (
	"context"
	"log/slog"
	"time"
)

// StreamMaintainer is the part of the stream manager the periodic jobs use
type StreamMaintainer interface {
	SendHeartbeat(ctx context.Context) int
	CleanupStaleConnections(timeout time.Duration) int
}

// StreamJobsConfig configures the heartbeat and eviction jobs
type StreamJobsConfig struct {
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	StaleTimeout      time.Duration
}

// DefaultStreamJobsConfig returns the default stream maintenance settings
func DefaultStreamJobsConfig() *StreamJobsConfig {
	return &StreamJobsConfig{
		HeartbeatInterval: 15 * time.Second,
		CleanupInterval:   time.Minute,
		StaleTimeout:      5 * time.Minute,
	}
}

// RegisterStreamJobs schedules the heartbeat and stale-connection eviction.
// A non-positive interval leaves that job out.
func RegisterStreamJobs(s *Scheduler, streams StreamMaintainer, cfg *StreamJobsConfig) {
	if cfg == nil {
		cfg = DefaultStreamJobsConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.HeartbeatInterval > 0 {
		s.Register(&CronJob{
			ID:       "stream-heartbeat",
			Schedule: Every(cfg.HeartbeatInterval),
			Timeout:  cfg.HeartbeatInterval,
			Enabled:  true,
			Task: func(ctx context.Context) error {
				n := streams.SendHeartbeat(ctx)
				logger.Debug("heartbeat sent", "connections", n)
				return nil
			},
		})
	}

	if cfg.CleanupInterval > 0 {
		timeout := cfg.StaleTimeout
		s.Register(&CronJob{
			ID:       "stream-cleanup",
			Schedule: Every(cfg.CleanupInterval),
			Enabled:  true,
			Task: func(ctx context.Context) error {
				if n := streams.CleanupStaleConnections(timeout); n > 0 {
					logger.Info("stale stream connections removed", "count", n, "timeout", timeout)
				}
				return nil
			},
		})
	}
}

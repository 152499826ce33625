package backup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"peerlink/internal/core/ports"
	"peerlink/pkg/backup"
)

// Scheduler periodically snapshots the client roster so that affiliations
// survive a full restart even when only the in-memory repositories are used.
type Scheduler struct {
	snapshots     *backup.SnapshotService
	clientRepo    ports.ClientRepository
	interval      time.Duration
	retentionDays int
	logger        *zap.SugaredLogger
	stopChan      chan struct{}
}

// Config contains scheduler configuration
type Config struct {
	Interval      time.Duration
	RetentionDays int
}

// NewScheduler creates a new snapshot scheduler
func NewScheduler(
	snapshots *backup.SnapshotService,
	clientRepo ports.ClientRepository,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		snapshots:     snapshots,
		clientRepo:    clientRepo,
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start runs the scheduler until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runSnapshot(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSnapshot(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the snapshot scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runSnapshot(ctx context.Context) {
	s.logger.Info("starting scheduled roster snapshot")

	data, err := s.collectRoster(ctx)
	if err != nil {
		s.logger.Errorw("failed to collect roster", "error", err)
		return
	}

	name, err := s.snapshots.CreateSnapshot(ctx, data)
	if err != nil {
		s.logger.Errorw("failed to create snapshot", "error", err)
		return
	}

	s.logger.Infow("roster snapshot created", "snapshot_name", name, "client_count", len(data.Clients))

	if err := s.cleanupOldSnapshots(ctx); err != nil {
		s.logger.Warnw("failed to cleanup old snapshots", "error", err)
	}
}

func (s *Scheduler) collectRoster(ctx context.Context) (*backup.Snapshot, error) {
	data := &backup.Snapshot{
		Clients:  make(map[string]interface{}),
		Metadata: make(map[string]interface{}),
	}

	clients, err := s.clientRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	for _, client := range clients {
		data.Clients[string(client.ID)] = client
	}

	data.Metadata["client_count"] = len(data.Clients)
	data.Metadata["snapshot_type"] = "scheduled"

	return data, nil
}

// cleanupOldSnapshots removes snapshots older than the retention period.
// Snapshot names embed their creation time as roster-20060102-150405.json.
func (s *Scheduler) cleanupOldSnapshots(ctx context.Context) error {
	names, err := s.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	cutoffTime := time.Now().AddDate(0, 0, -s.retentionDays)

	for _, name := range names {
		if len(name) < 22 {
			continue
		}

		timestampStr := name[7:22] // "roster-" + "20060102-150405"
		timestamp, err := time.Parse("20060102-150405", timestampStr)
		if err != nil {
			s.logger.Warnw("failed to parse snapshot timestamp", "snapshot_name", name, "error", err)
			continue
		}

		if timestamp.Before(cutoffTime) {
			if err := s.snapshots.DeleteSnapshot(ctx, name); err != nil {
				s.logger.Warnw("failed to delete old snapshot", "snapshot_name", name, "error", err)
				continue
			}
			s.logger.Infow("deleted old snapshot", "snapshot_name", name, "age", time.Since(timestamp))
		}
	}

	return nil
}

package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/backup"
)

// Restorer loads a roster snapshot back into the client repository.
type Restorer struct {
	snapshots  *backup.SnapshotService
	clientRepo ports.ClientRepository
	logger     *zap.SugaredLogger
}

// NewRestorer creates a new restorer
func NewRestorer(snapshots *backup.SnapshotService, clientRepo ports.ClientRepository, logger *zap.SugaredLogger) *Restorer {
	return &Restorer{
		snapshots:  snapshots,
		clientRepo: clientRepo,
		logger:     logger,
	}
}

// RestoreLatest restores the most recent snapshot, if any exists. All
// restored clients are marked offline; liveness only comes from a live
// transport, never from a snapshot.
func (r *Restorer) RestoreLatest(ctx context.Context) error {
	names, err := r.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(names) == 0 {
		r.logger.Info("no roster snapshots found, starting empty")
		return nil
	}

	// Names embed timestamps, so lexical order is chronological.
	sort.Strings(names)
	return r.Restore(ctx, names[len(names)-1])
}

// Restore restores a specific snapshot by name.
func (r *Restorer) Restore(ctx context.Context, name string) error {
	snapshot, err := r.snapshots.LoadSnapshot(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}

	restored := 0
	for id, raw := range snapshot.Clients {
		client, err := decodeClient(raw)
		if err != nil {
			r.logger.Warnw("skipping malformed snapshot entry", "client_id", id, "error", err)
			continue
		}

		client.Status = domain.StatusOffline
		if err := r.clientRepo.Put(ctx, client); err != nil {
			r.logger.Warnw("failed to restore client", "client_id", id, "error", err)
			continue
		}
		restored++
	}

	r.logger.Infow("roster snapshot restored", "snapshot_name", name, "restored", restored)
	return nil
}

// decodeClient converts a snapshot entry back into a domain client. Entries
// round-trip through map[string]interface{}, so re-marshal before decoding.
func decodeClient(raw interface{}) (*domain.Client, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var client domain.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, err
	}
	if client.ID == "" {
		return nil, fmt.Errorf("entry has no client id")
	}
	return &client, nil
}

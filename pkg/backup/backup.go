package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Snapshot is a point-in-time export of the client roster.
type Snapshot struct {
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Clients   map[string]interface{} `json:"clients,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Storage defines interface for snapshot storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// SnapshotService persists and restores roster snapshots.
type SnapshotService struct {
	storage Storage
	version string
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(storage Storage, version string) *SnapshotService {
	return &SnapshotService{
		storage: storage,
		version: version,
	}
}

// CreateSnapshot writes the snapshot to storage and returns its name.
func (ss *SnapshotService) CreateSnapshot(ctx context.Context, data *Snapshot) (string, error) {
	data.Version = ss.version
	data.Timestamp = time.Now()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("roster-%s.json", data.Timestamp.Format("20060102-150405"))
	if err := ss.storage.Save(ctx, name, bytes.NewReader(jsonData)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	return name, nil
}

// LoadSnapshot reads a snapshot back from storage.
func (ss *SnapshotService) LoadSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	reader, err := ss.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// ListSnapshots lists all stored snapshots.
func (ss *SnapshotService) ListSnapshots(ctx context.Context) ([]string, error) {
	return ss.storage.List(ctx, "roster-")
}

// DeleteSnapshot removes a snapshot from storage.
func (ss *SnapshotService) DeleteSnapshot(ctx context.Context, name string) error {
	return ss.storage.Delete(ctx, name)
}

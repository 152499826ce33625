package backup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerlink/internal/core/domain"
	"peerlink/internal/infrastructure/repositories/memory"
	"peerlink/pkg/backup"
)

func newSnapshotService(t *testing.T) *backup.SnapshotService {
	t.Helper()

	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return backup.NewSnapshotService(storage, "test")
}

func TestRestoreLatestRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	snapshots := newSnapshotService(t)

	source := memory.NewClientRepository()
	require.NoError(t, source.Put(ctx, &domain.Client{
		ID:             "client-1",
		AdminID:        "admin-1",
		OrganizationID: "org-1",
		UserName:       "alice",
		Status:         domain.StatusOnline,
		LastSeen:       time.Now(),
	}))

	scheduler := NewScheduler(snapshots, source, Config{Interval: time.Hour, RetentionDays: 7}, logger)
	scheduler.runSnapshot(ctx)

	target := memory.NewClientRepository()
	restorer := NewRestorer(snapshots, target, logger)
	require.NoError(t, restorer.RestoreLatest(ctx))

	client, err := target.GetByID(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AdminID("admin-1"), client.AdminID)
	assert.Equal(t, domain.OrganizationID("org-1"), client.OrganizationID)
	assert.Equal(t, "alice", client.UserName)
	// Liveness never survives a restart.
	assert.Equal(t, domain.StatusOffline, client.Status)
}

func TestRestoreLatestNoSnapshots(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	restorer := NewRestorer(newSnapshotService(t), memory.NewClientRepository(), logger)
	require.NoError(t, restorer.RestoreLatest(ctx))
}

func TestCleanupOldSnapshots(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	snapshots := newSnapshotService(t)

	old := &backup.Snapshot{Metadata: map[string]interface{}{}}
	_, err := snapshots.CreateSnapshot(ctx, old)
	require.NoError(t, err)

	// Zero retention treats every existing snapshot as expired.
	scheduler := NewScheduler(snapshots, memory.NewClientRepository(), Config{Interval: time.Hour, RetentionDays: 0}, logger)
	require.NoError(t, scheduler.cleanupOldSnapshots(ctx))

	names, err := snapshots.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

package backup

import (
	"context"
	"strings"
	"testing"
)

func newTestService(t *testing.T) *SnapshotService {
	t.Helper()

	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	return NewSnapshotService(storage, "test")
}

func TestCreateAndLoadSnapshot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	data := &Snapshot{
		Clients: map[string]interface{}{
			"client-1": map[string]interface{}{
				"admin_id": "admin-1",
				"status":   "online",
			},
		},
		Metadata: map[string]interface{}{
			"instance": "test",
		},
	}

	name, err := svc.CreateSnapshot(ctx, data)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if !strings.HasPrefix(name, "roster-") {
		t.Errorf("unexpected snapshot name %q", name)
	}

	loaded, err := svc.LoadSnapshot(ctx, name)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.Version != "test" {
		t.Errorf("expected version %q, got %q", "test", loaded.Version)
	}
	if len(loaded.Clients) != 1 {
		t.Errorf("expected 1 client, got %d", len(loaded.Clients))
	}
	if loaded.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestListSnapshots(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateSnapshot(ctx, &Snapshot{}); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	names, err := svc.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(names))
	}
}

func TestDeleteSnapshot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	name, err := svc.CreateSnapshot(ctx, &Snapshot{})
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := svc.DeleteSnapshot(ctx, name); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}

	names, err := svc.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no snapshots after delete, got %d", len(names))
	}

	if _, err := svc.LoadSnapshot(ctx, name); err == nil {
		t.Error("expected error loading deleted snapshot")
	}
}

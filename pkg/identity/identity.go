package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store resolves a device identity that is stable across sessions. The ID
// is generated once and persisted under the user config dir.
type Store struct {
	mu   sync.Mutex
	path string
	id   string
}

// NewStore creates an identity store persisting under dir. An empty dir
// uses <user-config-dir>/peerlink.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		dir = filepath.Join(base, "peerlink")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, "device_id")}, nil
}

// GetOrCreateDeviceID returns the persisted device ID, generating and
// storing a new one on first use.
func (s *Store) GetOrCreateDeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		return s.id, nil
	}

	if data, err := os.ReadFile(s.path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			s.id = id
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(s.path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	s.id = id
	return id, nil
}

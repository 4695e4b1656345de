package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"skycat/internal/catalog"
)

// MemoryVault keeps snapshots in memory. It is meant for tests and is
// safe for concurrent use.
type MemoryVault struct {
	name     string
	items    map[string][]byte // "catalogID/name" -> data
	versions map[string]int64  // "catalogID/name" -> version
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		items:    make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func itemKey(catalogID, name string) string {
	return catalogID + "/" + name
}

// PutSnapshot stores a named item for a catalog.
func (m *MemoryVault) PutSnapshot(catalogID, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey(catalogID, name)
	m.items[key] = data
	m.versions[key] = version
	return nil
}

// SnapshotVersion returns 0 if nothing has been stored for catalogID/name.
func (m *MemoryVault) SnapshotVersion(catalogID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.versions[itemKey(catalogID, name)], nil
}

func (m *MemoryVault) GetSnapshot(catalogID, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.items[itemKey(catalogID, name)]
	if !ok {
		return fmt.Errorf("snapshot %q not found for catalog: %s", name, catalogID)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements catalog.Vault interface
var _ catalog.Vault = (*MemoryVault)(nil)

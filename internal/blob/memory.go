package blob

import (
	"context"
	"fmt"
	"sync"

	"campusattend/internal/apperr"
)

// Memory keeps uploads in process. URLs use the mem:// scheme and are only
// meaningful to the face service in skip mode.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Upload stores data under path.
func (m *Memory) Upload(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("upload %s: %w: %v", path, apperr.ErrStoreUnavailable, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("upload %s: empty: %w", path, apperr.ErrInputInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// Get returns the bytes stored under path.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[path]
	return b, ok
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

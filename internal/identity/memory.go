package identity

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-process Directory for tests and dev mode.
type MemoryDirectory struct {
	mu         sync.RWMutex
	identities map[string]*Identity
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{identities: make(map[string]*Identity)}
}

// Put stores or replaces an identity.
func (d *MemoryDirectory) Put(id *Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[id.PayeeID] = id
}

// Lookup implements Directory.
func (d *MemoryDirectory) Lookup(_ context.Context, payeeID string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.identities[payeeID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *id
	copied.Destinations = append([]Destination(nil), id.Destinations...)
	return &copied, nil
}

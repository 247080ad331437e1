// Package store provides the durable single-slot storage the conversation
// registry persists into. A Slot holds one opaque payload; serialization is
// the caller's concern.
package store

import (
	"context"
	"sync"
)

// Slot is a durable key-value slot holding a single payload.
type Slot interface {
	// Load returns the stored payload. The boolean is false if nothing has
	// been stored yet; that is not an error.
	Load(ctx context.Context) ([]byte, bool, error)

	// Save replaces the stored payload.
	Save(ctx context.Context, payload []byte) error
}

// MemorySlot is an in-memory Slot, used in tests and as the fallback when no
// durable backend is configured.
type MemorySlot struct {
	mu      sync.Mutex
	payload []byte
	set     bool
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (m *MemorySlot) Load(_ context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return nil, false, nil
	}
	out := make([]byte, len(m.payload))
	copy(out, m.payload)
	return out, true, nil
}

func (m *MemorySlot) Save(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = make([]byte, len(payload))
	copy(m.payload, payload)
	m.set = true
	return nil
}

package provider

import (
	"sync"

	"artifactd/pkg/types"
)

// bytesHandle is an in-memory materialized artifact. It backs the local
// provider and disk-tier rehydration.
type bytesHandle struct {
	id      string
	variant types.Variant

	mu       sync.Mutex
	data     []byte
	size     int64
	released bool
	onFree   func()
}

// NewBytesHandle wraps raw artifact bytes in a Handle. onFree, if set,
// runs exactly once when the handle is released.
func NewBytesHandle(id string, v types.Variant, data []byte, onFree func()) types.Handle {
	return &bytesHandle{id: id, variant: v, data: data, size: int64(len(data)), onFree: onFree}
}

func (h *bytesHandle) ArtifactID() string     { return h.id }
func (h *bytesHandle) Variant() types.Variant { return h.variant }
func (h *bytesHandle) SizeBytes() int64       { return h.size }

func (h *bytesHandle) Payload() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, false
	}
	return h.data, true
}

func (h *bytesHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.data = nil
	onFree := h.onFree
	h.mu.Unlock()
	if onFree != nil {
		onFree()
	}
	return nil
}

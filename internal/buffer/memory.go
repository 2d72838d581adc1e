package buffer

import (
	"context"
	"sync"

	"example.com/territory/internal/domain"
)

// MemoryBuffer is an in-process LocationBuffer for local development and tests.
type MemoryBuffer struct {
	mu      sync.Mutex
	samples map[domain.BufferKey][]domain.LocationSample
}

// NewMemoryBuffer constructs an empty MemoryBuffer.
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{samples: make(map[domain.BufferKey][]domain.LocationSample)}
}

// Append implements domain.LocationBuffer.
func (b *MemoryBuffer) Append(_ context.Context, key domain.BufferKey, sample domain.LocationSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[key] = append(b.samples[key], sample)
	return nil
}

// Drain implements domain.LocationBuffer.
func (b *MemoryBuffer) Drain(_ context.Context, key domain.BufferKey) ([]domain.LocationSample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	samples := b.samples[key]
	delete(b.samples, key)
	return samples, nil
}

// Len reports how many samples are buffered for key.
func (b *MemoryBuffer) Len(key domain.BufferKey) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples[key])
}

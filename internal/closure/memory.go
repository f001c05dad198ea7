package closure

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory, thread-safe Repository implementation for
// tests and single-process deployments.
type MemoryRepository struct {
	mu        sync.RWMutex
	bulletins map[uuid.UUID]*Bulletin
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bulletins: make(map[uuid.UUID]*Bulletin)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, b *Bulletin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *b
	r.bulletins[b.ID] = &clone
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Bulletin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bulletins[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *b
	return &clone, nil
}

// UpdateAggregates implements Repository.
func (r *MemoryRepository) UpdateAggregates(_ context.Context, id uuid.UUID, agg Aggregates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bulletins[id]
	if !ok {
		return ErrNotFound
	}
	if b.Sealed {
		return ErrAlreadySealed
	}
	b.Aggregates = agg
	return nil
}

// Seal implements Repository.
func (r *MemoryRepository) Seal(_ context.Context, id uuid.UUID, digest string, sealedAt time.Time) (*Bulletin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bulletins[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Sealed {
		return nil, ErrAlreadySealed
	}
	b.Sealed = true
	b.Digest = digest
	b.SealedAt = &sealedAt
	clone := *b
	return &clone, nil
}

// ListSealedCovering implements Repository.
func (r *MemoryRepository) ListSealedCovering(_ context.Context, ts time.Time) ([]*Bulletin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Bulletin
	for _, b := range r.bulletins {
		if b.Sealed && b.Covers(ts) {
			clone := *b
			out = append(out, &clone)
		}
	}
	return out, nil
}

package journal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do not
// require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	sealed  SealedChecker
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSealedChecker installs the sealed-period gate evaluated under the
// append lock.
func WithSealedChecker(check SealedChecker) MemoryOption {
	return func(s *MemoryStore) { s.sealed = check }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty MemoryStore. The journal starts with no
// entries; the first Append allocates sequence 1 chained to GenesisDigest.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, draft Draft) (*Entry, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft = draft.normalize(s.now)

	payload, err := CanonicalJSON(draft.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed != nil {
		closed, err := s.sealed(ctx, draft.Timestamp)
		if err != nil {
			return nil, &StorageError{Op: "sealed-period check", Err: err}
		}
		if closed {
			return nil, ErrPeriodSealed
		}
	}

	prevDigest := GenesisDigest
	if n := len(s.entries); n > 0 {
		prevDigest = s.entries[n-1].Digest
	}

	entry := &Entry{
		Sequence:    int64(len(s.entries)) + 1,
		Type:        draft.Type,
		ReferenceID: draft.ReferenceID,
		Amount:      draft.Amount,
		TaxAmount:   draft.TaxAmount,
		Payload:     payload,
		Timestamp:   draft.Timestamp,
		ActorID:     draft.ActorID,
		PrevDigest:  prevDigest,
	}
	entry.Digest = entryDigest(entry, prevDigest)
	s.entries = append(s.entries, entry)
	return entry, nil
}

// GetBySequence implements Store.
func (s *MemoryStore) GetBySequence(_ context.Context, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 1 || seq > int64(len(s.entries)) {
		return nil, ErrNotFound
	}
	return s.entries[seq-1], nil
}

// GetRange implements Store.
func (s *MemoryStore) GetRange(_ context.Context, from, to int64) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 1 {
		from = 1
	}
	if to > int64(len(s.entries)) {
		to = int64(len(s.entries))
	}
	if from > to {
		return nil, nil
	}
	out := make([]*Entry, 0, to-from+1)
	out = append(out, s.entries[from-1:to]...)
	return out, nil
}

// GetLast implements Store.
func (s *MemoryStore) GetLast(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, ErrNotFound
	}
	return s.entries[len(s.entries)-1], nil
}

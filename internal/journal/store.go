package journal

import (
	"context"
	"time"
)

// Store is the append-only persistence boundary of the fiscal journal.
// Both MemoryStore and PostgresStore implement this interface.
//
// The interface deliberately exposes no update or delete operation for any
// sequence number ever returned by Append: immutability of history is an
// API-level guarantee, so accidental misuse is a compile error rather than a
// runtime policy violation.
type Store interface {
	// Append allocates the next sequence number, chains the new entry to the
	// current tail digest and persists it durably. Appends are mutually
	// exclusive across concurrent callers. Returns ErrConflict when the tail
	// moved underneath the caller, ErrPeriodSealed when the entry timestamp
	// falls inside a sealed closure period, and *StorageError when the
	// durable write did not complete.
	Append(ctx context.Context, draft Draft) (*Entry, error)

	// GetBySequence returns the entry with the given sequence number.
	GetBySequence(ctx context.Context, seq int64) (*Entry, error)

	// GetRange returns entries with from <= sequence <= to, ascending.
	GetRange(ctx context.Context, from, to int64) ([]*Entry, error)

	// GetLast returns the chain tail. Returns ErrNotFound on an empty journal.
	GetLast(ctx context.Context) (*Entry, error)
}

// SealedChecker reports whether a timestamp falls inside a sealed closure
// period. Stores consult it inside their append critical section so a bulletin
// sealed concurrently with an in-flight append cannot slip past the gate.
type SealedChecker func(ctx context.Context, ts time.Time) (bool, error)

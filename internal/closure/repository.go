package closure

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no bulletin exists for the given id.
var ErrNotFound = errors.New("closure: bulletin not found")

// ErrAlreadySealed is returned when a lifecycle operation targets a bulletin
// that has already been sealed. Sealing never reverts.
var ErrAlreadySealed = errors.New("closure: bulletin already sealed")

// ErrEmptyPeriod is returned when sealing a bulletin that covers zero journal
// entries and the empty-seal policy does not allow it.
var ErrEmptyPeriod = errors.New("closure: period covers no journal entries")

// ErrInvalidPeriod is returned when a period is malformed (end not after start).
var ErrInvalidPeriod = errors.New("closure: period end must be after period start")

// Repository is the persistence boundary for closure bulletins. There is no
// delete operation, and the only mutations are aggregate recomputation while
// unsealed and the one-way seal transition; a sealed bulletin row is immutable.
type Repository interface {
	// Create persists a new unsealed bulletin.
	Create(ctx context.Context, b *Bulletin) error

	// Get returns the bulletin with the given id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Bulletin, error)

	// UpdateAggregates replaces the aggregates of an unsealed bulletin.
	// Returns ErrAlreadySealed if the bulletin has been sealed.
	UpdateAggregates(ctx context.Context, id uuid.UUID, agg Aggregates) error

	// Seal marks the bulletin sealed, storing its digest and seal time.
	// Returns ErrAlreadySealed on a second call for the same bulletin.
	Seal(ctx context.Context, id uuid.UUID, digest string, sealedAt time.Time) (*Bulletin, error)

	// ListSealedCovering returns all sealed bulletins whose half-open period
	// contains ts.
	ListSealedCovering(ctx context.Context, ts time.Time) ([]*Bulletin, error)
}

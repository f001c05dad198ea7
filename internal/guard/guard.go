// Package guard implements the write-path gate consulted before any business
// record is mutated with an effective timestamp. It rejects mutations whose
// effective time falls inside a sealed closure period.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/closure"
)

// ReasonPeriodSealed is the denial reason when the effective timestamp lies
// inside a sealed closure period.
const ReasonPeriodSealed = "period_sealed"

// Decision is the outcome of a guard check. A denied decision names the
// sealing bulletin so the caller can surface it to the user.
type Decision struct {
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	BulletinID uuid.UUID `json:"bulletin_id,omitempty"`
}

// Guard is a pure read-then-decide gate over sealed closure bulletins. It has
// no side effects; callers must invoke it synchronously inside the same
// operation boundary as the mutation they are attempting.
type Guard struct {
	closures closure.Repository
	logger   *zap.Logger
}

// New creates a Guard over the given bulletin repository.
func New(closures closure.Repository, logger *zap.Logger) *Guard {
	return &Guard{closures: closures, logger: logger}
}

// CheckAllowed reports whether a mutation effective at the given time may
// proceed. The error return is reserved for storage failures; a sealed-period
// rejection is a denied Decision, not an error.
func (g *Guard) CheckAllowed(ctx context.Context, effective time.Time) (Decision, error) {
	sealed, err := g.closures.ListSealedCovering(ctx, effective.UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("query sealed bulletins: %w", err)
	}
	if len(sealed) > 0 {
		g.logger.Debug("mutation denied",
			zap.Time("effective", effective),
			zap.String("bulletin_id", sealed[0].ID.String()),
		)
		return Decision{Reason: ReasonPeriodSealed, BulletinID: sealed[0].ID}, nil
	}
	return Decision{Allowed: true}, nil
}

// SealedChecker adapts the guard for injection into a journal store's append
// path, where it runs under the store's append lock.
func (g *Guard) SealedChecker() func(ctx context.Context, ts time.Time) (bool, error) {
	return func(ctx context.Context, ts time.Time) (bool, error) {
		d, err := g.CheckAllowed(ctx, ts)
		if err != nil {
			return false, err
		}
		return !d.Allowed, nil
	}
}

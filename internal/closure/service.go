package closure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/journal"
)

// systemActor is the principal recorded on closure-summary journal entries.
const systemActor = "fiscal-system"

// aggregateBatchSize bounds how many journal entries are read per round while
// summing a period.
const aggregateBatchSize = 500

// Service owns the closure-bulletin lifecycle: draft creation, recomputation
// while unsealed, the one-way seal transition and bulletin verification.
// Enforcement against backdated entries is not done here; that is the mutation
// guard's job, keeping summarization and enforcement separated.
type Service struct {
	entries        journal.Store
	repo           Repository
	logger         *zap.Logger
	allowEmptySeal bool
	now            func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a closure Service.
func NewService(entries journal.Store, repo Repository, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		entries: entries,
		repo:    repo,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAllowEmptySeal configures whether bulletins covering zero entries may be
// sealed. The default is to refuse with ErrEmptyPeriod.
func (s *Service) SetAllowEmptySeal(allow bool) { s.allowEmptySeal = allow }

// CreateBulletin aggregates the journal over [periodStart, periodEnd) and
// persists a new unsealed bulletin. Entries appended after the call's
// sequence-number ceiling are excluded deterministically; a later Recompute
// folds them in while the bulletin is still unsealed.
func (s *Service) CreateBulletin(ctx context.Context, periodStart, periodEnd time.Time, typ ClosureType) (*Bulletin, error) {
	if !periodEnd.After(periodStart) {
		return nil, ErrInvalidPeriod
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown closure type %q", typ)
	}

	agg, err := s.aggregate(ctx, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	b := &Bulletin{
		ID:          uuid.New(),
		PeriodStart: periodStart.UTC(),
		PeriodEnd:   periodEnd.UTC(),
		Type:        typ,
		Aggregates:  agg,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("closure bulletin created",
		zap.String("id", b.ID.String()),
		zap.String("type", string(typ)),
		zap.Int64("entries", agg.EntryCount),
	)
	return b, nil
}

// Recompute re-aggregates an unsealed bulletin, picking up entries that
// arrived for the period after the bulletin was drafted.
func (s *Service) Recompute(ctx context.Context, id uuid.UUID) (*Bulletin, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Sealed {
		return nil, ErrAlreadySealed
	}

	agg, err := s.aggregate(ctx, b.PeriodStart, b.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAggregates(ctx, id, agg); err != nil {
		return nil, err
	}
	b.Aggregates = agg
	return b, nil
}

// Seal transitions the bulletin to its final, immutable state: the bulletin
// digest is computed over the aggregates and period boundaries, the row is
// marked sealed, and a CLOSURE_SUMMARY entry is appended to the journal so
// the chain itself witnesses the closure. A second Seal call returns
// ErrAlreadySealed and leaves the aggregates untouched.
func (s *Service) Seal(ctx context.Context, id uuid.UUID) (*Bulletin, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Sealed {
		return nil, ErrAlreadySealed
	}
	if b.Aggregates.EntryCount == 0 && !s.allowEmptySeal {
		return nil, ErrEmptyPeriod
	}

	digest := bulletinDigest(b)
	sealed, err := s.repo.Seal(ctx, id, digest, s.now())
	if err != nil {
		return nil, err
	}

	summary, err := json.Marshal(map[string]any{
		"bulletin_id":  sealed.ID.String(),
		"period_start": sealed.PeriodStart.Format(time.RFC3339Nano),
		"period_end":   sealed.PeriodEnd.Format(time.RFC3339Nano),
		"closure_type": sealed.Type,
		"aggregates":   sealed.Aggregates,
		"digest":       sealed.Digest,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal closure summary: %w", err)
	}

	// The summary entry carries zero amounts so closing a period never
	// changes any total; the figures live in the payload. It is stamped at
	// or after the period end: a seal at close of business happens inside
	// the period it just sealed, and a now-stamped witness would be rejected
	// by the sealed-period gate.
	witnessAt := s.now()
	if witnessAt.Before(sealed.PeriodEnd) {
		witnessAt = sealed.PeriodEnd
	}
	if _, err := s.entries.Append(ctx, journal.Draft{
		Type:        journal.TypeClosureSummary,
		ReferenceID: sealed.ID.String(),
		Payload:     summary,
		Timestamp:   witnessAt,
		ActorID:     systemActor,
	}); err != nil {
		// The bulletin is sealed either way; the missing witness entry is an
		// operational problem, not a lifecycle failure.
		s.logger.Error("closure summary append failed",
			zap.String("bulletin_id", sealed.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("closure bulletin sealed",
		zap.String("id", sealed.ID.String()),
		zap.String("digest", sealed.Digest),
	)
	return sealed, nil
}

// Get returns a bulletin by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Bulletin, error) {
	return s.repo.Get(ctx, id)
}

// VerifyResult is the outcome of a bulletin verification.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Mismatch string `json:"mismatch,omitempty"`
}

// VerifyBulletin recomputes a sealed bulletin's aggregates from the covered
// journal range and compares them, and the bulletin digest, to the stored
// values.
func (s *Service) VerifyBulletin(ctx context.Context, id uuid.UUID) (*VerifyResult, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	agg, err := s.aggregate(ctx, b.PeriodStart, b.PeriodEnd)
	if err != nil {
		return nil, err
	}

	switch {
	case !agg.GrossTotal.Equal(b.Aggregates.GrossTotal):
		return &VerifyResult{Mismatch: fmt.Sprintf("gross total: recomputed %s, stored %s",
			agg.GrossTotal.StringFixed(2), b.Aggregates.GrossTotal.StringFixed(2))}, nil
	case !agg.TaxTotal.Equal(b.Aggregates.TaxTotal):
		return &VerifyResult{Mismatch: fmt.Sprintf("tax total: recomputed %s, stored %s",
			agg.TaxTotal.StringFixed(2), b.Aggregates.TaxTotal.StringFixed(2))}, nil
	case !agg.RefundTotal.Equal(b.Aggregates.RefundTotal):
		return &VerifyResult{Mismatch: fmt.Sprintf("refund total: recomputed %s, stored %s",
			agg.RefundTotal.StringFixed(2), b.Aggregates.RefundTotal.StringFixed(2))}, nil
	case agg.EntryCount != b.Aggregates.EntryCount:
		return &VerifyResult{Mismatch: fmt.Sprintf("entry count: recomputed %d, stored %d",
			agg.EntryCount, b.Aggregates.EntryCount)}, nil
	case agg.FirstSequence != b.Aggregates.FirstSequence || agg.LastSequence != b.Aggregates.LastSequence:
		return &VerifyResult{Mismatch: fmt.Sprintf("boundary sequences: recomputed [%d, %d], stored [%d, %d]",
			agg.FirstSequence, agg.LastSequence, b.Aggregates.FirstSequence, b.Aggregates.LastSequence)}, nil
	}

	if b.Sealed {
		check := *b
		check.Aggregates = agg
		if expected := bulletinDigest(&check); expected != b.Digest {
			return &VerifyResult{Mismatch: fmt.Sprintf("bulletin digest: recomputed %s, stored %s", expected, b.Digest)}, nil
		}
	}
	return &VerifyResult{Valid: true}, nil
}

// aggregate sums journal entries whose timestamp lies in [start, end) and
// whose sequence number is at most the tail captured at call time. Closure
// summaries are excluded so closing a period never feeds back into the next
// bulletin's figures.
func (s *Service) aggregate(ctx context.Context, start, end time.Time) (Aggregates, error) {
	agg := Aggregates{
		GrossTotal:  decimal.Zero,
		TaxTotal:    decimal.Zero,
		RefundTotal: decimal.Zero,
	}

	tail, err := s.entries.GetLast(ctx)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return agg, nil
		}
		return agg, fmt.Errorf("read journal tail: %w", err)
	}
	ceiling := tail.Sequence

	for from := int64(1); from <= ceiling; from += aggregateBatchSize {
		to := from + aggregateBatchSize - 1
		if to > ceiling {
			to = ceiling
		}
		batch, err := s.entries.GetRange(ctx, from, to)
		if err != nil {
			return agg, fmt.Errorf("read journal entries %d..%d: %w", from, to, err)
		}
		for _, e := range batch {
			if e.Type == journal.TypeClosureSummary {
				continue
			}
			if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
				continue
			}
			agg.GrossTotal = agg.GrossTotal.Add(e.Amount)
			agg.TaxTotal = agg.TaxTotal.Add(e.TaxAmount)
			if e.Type == journal.TypeRefund {
				agg.RefundTotal = agg.RefundTotal.Add(e.Amount)
			}
			agg.EntryCount++
			if agg.FirstSequence == 0 {
				agg.FirstSequence = e.Sequence
			}
			agg.LastSequence = e.Sequence
		}
	}
	return agg, nil
}

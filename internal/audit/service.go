package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var auditDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fiscal_audit_drops_total",
	Help: "Total audit records dropped because the insert failed.",
})

// Service records privileged actions and serves audit queries.
//
// Record is deliberately best-effort: an audit insert failure must never fail
// the caller's primary operation. Drops are logged and counted on an
// operational metric instead. This is the opposite of the journal's
// strict-consistency policy, and intentionally so.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an audit Service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends an audit entry with a server-assigned id and timestamp.
// Returns the recorded entry, or nil if the insert failed and was dropped.
func (s *Service) Record(ctx context.Context, d Draft) *Entry {
	e := &Entry{
		ID:            uuid.New(),
		ActorID:       d.ActorID,
		Action:        d.Action,
		ResourceType:  d.ResourceType,
		ResourceID:    d.ResourceID,
		Timestamp:     s.now(),
		OriginAddress: d.OriginAddress,
	}

	if d.Details != nil {
		details, err := json.Marshal(d.Details)
		if err != nil {
			s.logger.Warn("audit details not serializable, recording without them",
				zap.String("action", d.Action),
				zap.Error(err),
			)
		} else {
			e.Details = details
		}
	}

	if err := s.repo.Insert(ctx, e); err != nil {
		auditDropsTotal.Inc()
		s.logger.Error("audit record dropped",
			zap.String("actor_id", d.ActorID),
			zap.String("action", d.Action),
			zap.Error(err),
		)
		return nil
	}
	return e
}

// Query returns a page of audit entries matching the filter.
func (s *Service) Query(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	entries, total, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

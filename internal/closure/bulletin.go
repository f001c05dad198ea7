package closure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClosureType is the granularity of a closure period.
type ClosureType string

const (
	ClosureDaily   ClosureType = "DAILY"
	ClosureMonthly ClosureType = "MONTHLY"
	ClosureAnnual  ClosureType = "ANNUAL"
)

// Valid reports whether t is a known closure type.
func (t ClosureType) Valid() bool {
	switch t {
	case ClosureDaily, ClosureMonthly, ClosureAnnual:
		return true
	}
	return false
}

// Aggregates are the sums over the journal entries covered by a bulletin.
// FirstSequence/LastSequence are the boundary sequence numbers of the covered
// range; both are zero when the period contains no entries.
type Aggregates struct {
	GrossTotal    decimal.Decimal `json:"gross_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	RefundTotal   decimal.Decimal `json:"refund_total"`
	EntryCount    int64           `json:"entry_count"`
	FirstSequence int64           `json:"first_sequence"`
	LastSequence  int64           `json:"last_sequence"`
}

// Bulletin certifies a half-open time period [PeriodStart, PeriodEnd).
// It is created unsealed so late-arriving entries can be folded in by
// recomputation; sealing is a one-way transition after which the bulletin is
// immutable and no journal entry may be backdated into the period.
type Bulletin struct {
	ID          uuid.UUID   `json:"id"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	Type        ClosureType `json:"type"`
	Aggregates  Aggregates  `json:"aggregates"`
	Digest      string      `json:"digest,omitempty"`
	Sealed      bool        `json:"sealed"`
	CreatedAt   time.Time   `json:"created_at"`
	SealedAt    *time.Time  `json:"sealed_at,omitempty"`
}

// Covers reports whether ts falls inside the bulletin's half-open period.
func (b *Bulletin) Covers(ts time.Time) bool {
	return !ts.Before(b.PeriodStart) && ts.Before(b.PeriodEnd)
}

// bulletinDigest computes the hex-encoded SHA-256 digest sealing a bulletin's
// aggregates and period boundaries. The v1 format is frozen, like the journal
// entry canonicalization.
func bulletinDigest(b *Bulletin) string {
	h := sha256.New()
	fmt.Fprintf(h, "v1|%s|%s|%s|%s|%s|%s|%d|%d|%d",
		b.PeriodStart.UTC().Format(time.RFC3339Nano),
		b.PeriodEnd.UTC().Format(time.RFC3339Nano),
		b.Type,
		b.Aggregates.GrossTotal.StringFixed(2),
		b.Aggregates.TaxTotal.StringFixed(2),
		b.Aggregates.RefundTotal.StringFixed(2),
		b.Aggregates.EntryCount,
		b.Aggregates.FirstSequence,
		b.Aggregates.LastSequence,
	)
	return hex.EncodeToString(h.Sum(nil))
}

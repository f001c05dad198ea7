package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a journal entry. The set is closed: the digest
// canonicalization depends on these exact string values.
type EntryType string

const (
	TypeSale           EntryType = "SALE"
	TypeRefund         EntryType = "REFUND"
	TypeSystemInit     EntryType = "SYSTEM_INIT"
	TypeClosureSummary EntryType = "CLOSURE_SUMMARY"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case TypeSale, TypeRefund, TypeSystemInit, TypeClosureSummary:
		return true
	}
	return false
}

// Entry is one immutable record in the fiscal journal. Entries are only ever
// constructed by a Store's append path; the chaining invariant
// (entry[i].PrevDigest == entry[i-1].Digest) cannot be established any other way.
type Entry struct {
	Sequence    int64           `json:"sequence"`
	Type        EntryType       `json:"type"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
	ActorID     string          `json:"actor_id"`
	PrevDigest  string          `json:"prev_digest"`
	Digest      string          `json:"digest"`
}

// Draft is the caller-supplied half of an Entry. Sequence, digests and payload
// canonicalization are filled in by the store at append time.
type Draft struct {
	Type        EntryType
	ReferenceID string
	Amount      decimal.Decimal
	TaxAmount   decimal.Decimal
	Payload     json.RawMessage
	Timestamp   time.Time
	ActorID     string
}

// Validate checks the draft against the data-model rules. Negative amounts are
// permitted only on REFUND entries.
func (d *Draft) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidDraft, d.Type)
	}
	if d.ActorID == "" {
		return fmt.Errorf("%w: actor_id is required", ErrInvalidDraft)
	}
	if d.Type != TypeRefund {
		if d.Amount.IsNegative() {
			return fmt.Errorf("%w: negative amount on %s entry", ErrInvalidDraft, d.Type)
		}
		if d.TaxAmount.IsNegative() {
			return fmt.Errorf("%w: negative tax amount on %s entry", ErrInvalidDraft, d.Type)
		}
	}
	return nil
}

// normalize returns the draft with defaults applied: zero timestamps become
// the current UTC time, all timestamps are forced to UTC, and a nil payload
// becomes the empty JSON object. Timestamps are truncated to microseconds,
// the precision PostgreSQL preserves; anything finer would change the digest
// on the first read-back.
func (d Draft) normalize(now func() time.Time) Draft {
	if d.Timestamp.IsZero() {
		d.Timestamp = now()
	}
	d.Timestamp = d.Timestamp.UTC().Truncate(time.Microsecond)
	if len(d.Payload) == 0 {
		d.Payload = json.RawMessage("{}")
	}
	return d
}

package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GenesisDigest is the well-known all-zero digest that anchors the chain.
// The first appended entry (sequence 1) carries it as PrevDigest.
const GenesisDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalVersion prefixes every canonical serialization. The v1 format is
// frozen: field order, two-digit decimal formatting and RFC 3339 nanosecond
// timestamps must never change, or old chains become unverifiable. A format
// change requires a new version prefix and a verifier that understands both.
const canonicalVersion = "v1"

// ChainDigest computes the hex-encoded SHA-256 digest of an entry given the
// previous entry's digest and the entry's canonical serialization.
func ChainDigest(prevDigest string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevDigest))
	h.Write([]byte("|"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalEntryBytes produces the frozen v1 serialization of the digest-covered
// entry fields. ActorID and the digests themselves are deliberately excluded.
func canonicalEntryBytes(seq int64, typ EntryType, referenceID string, amount, tax decimal.Decimal, payload []byte, ts time.Time) []byte {
	return fmt.Appendf(nil, "%s|%d|%s|%s|%s|%s|%s|%s",
		canonicalVersion, seq, typ, referenceID,
		amount.StringFixed(2), tax.StringFixed(2),
		payload, ts.UTC().Format(time.RFC3339Nano),
	)
}

// entryDigest recomputes the digest of e from its own fields and prev.
func entryDigest(e *Entry, prev string) string {
	canonical := canonicalEntryBytes(e.Sequence, e.Type, e.ReferenceID, e.Amount, e.TaxAmount, e.Payload, e.Timestamp)
	return ChainDigest(prev, canonical)
}

// CanonicalJSON re-encodes raw JSON into its canonical form: object keys
// sorted, insignificant whitespace removed, numbers preserved verbatim.
// Payloads are canonicalized once at append time so the digest is reproducible
// regardless of how the caller formatted the document.
func CanonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode canonical payload: %w", err)
	}
	return out, nil
}

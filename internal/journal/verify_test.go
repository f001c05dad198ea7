package journal_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/journal"
)

func seedChain(t *testing.T, n int) *journal.MemoryStore {
	t.Helper()
	store := journal.NewMemoryStore()
	for i := 0; i < n; i++ {
		if _, err := store.Append(ctx, saleDraft(fmt.Sprintf("order-%d", i+1))); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

// hidingStore hides one sequence number from range reads, simulating a hole
// in the stored chain.
type hidingStore struct {
	journal.Store
	hidden int64
}

func (s *hidingStore) GetRange(ctx context.Context, from, to int64) ([]*journal.Entry, error) {
	entries, err := s.Store.GetRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Sequence != s.hidden {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestVerifyChain_validChain(t *testing.T) {
	store := seedChain(t, 7)
	verifier := journal.NewVerifier(store, zap.NewNop())

	report, err := verifier.VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("valid chain reported divergent: %s", report)
	}
	if report.Checked != 7 {
		t.Errorf("checked: got %d, want 7", report.Checked)
	}

	tail, err := store.GetLast(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.FinalDigest != tail.Digest {
		t.Errorf("final digest: got %q, want tail digest %q", report.FinalDigest, tail.Digest)
	}
}

func TestVerifyChain_emptyJournal(t *testing.T) {
	verifier := journal.NewVerifier(journal.NewMemoryStore(), zap.NewNop())

	report, err := verifier.VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Checked != 0 {
		t.Errorf("empty journal: got %+v, want valid with 0 checked", report)
	}
	if report.FinalDigest != journal.GenesisDigest {
		t.Errorf("final digest of empty journal: got %q, want genesis", report.FinalDigest)
	}
}

func TestVerifyChain_detectsTamperedAmount(t *testing.T) {
	store := seedChain(t, 5)

	// Alter a stored entry in place, as a direct database edit would.
	e, err := store.GetBySequence(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	e.Amount = decimal.RequireFromString("999.99")

	report, err := journal.NewVerifier(store, zap.NewNop()).VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if report.Finding != journal.FindingDigestMismatch {
		t.Errorf("finding: got %s, want %s", report.Finding, journal.FindingDigestMismatch)
	}
	if report.Sequence != 3 {
		t.Errorf("divergence sequence: got %d, want 3", report.Sequence)
	}
	if report.Checked != 2 {
		t.Errorf("entries verified before divergence: got %d, want 2", report.Checked)
	}
}

func TestVerifyChain_detectsChainBreak(t *testing.T) {
	store := seedChain(t, 5)

	e, err := store.GetBySequence(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	e.PrevDigest = journal.GenesisDigest

	report, err := journal.NewVerifier(store, zap.NewNop()).VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Finding != journal.FindingChainBreak {
		t.Errorf("finding: got %s, want %s", report.Finding, journal.FindingChainBreak)
	}
	if report.Sequence != 4 {
		t.Errorf("divergence sequence: got %d, want 4", report.Sequence)
	}
}

func TestVerifyChain_detectsMissingSequence(t *testing.T) {
	store := seedChain(t, 5)
	verifier := journal.NewVerifier(&hidingStore{Store: store, hidden: 3}, zap.NewNop())

	report, err := verifier.VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Finding != journal.FindingSequenceGap {
		t.Errorf("finding: got %s, want %s", report.Finding, journal.FindingSequenceGap)
	}
	if report.Sequence != 3 {
		t.Errorf("gap sequence: got %d, want 3", report.Sequence)
	}
}

func TestVerifyChain_detectsMissingTailEntry(t *testing.T) {
	store := seedChain(t, 5)
	verifier := journal.NewVerifier(&hidingStore{Store: store, hidden: 5}, zap.NewNop())

	report, err := verifier.VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Finding != journal.FindingSequenceGap {
		t.Errorf("finding: got %s, want %s", report.Finding, journal.FindingSequenceGap)
	}
	if report.Sequence != 5 {
		t.Errorf("gap sequence: got %d, want 5", report.Sequence)
	}
}

func TestVerifyChain_partialRangeAnchorsAtPredecessor(t *testing.T) {
	store := seedChain(t, 6)
	verifier := journal.NewVerifier(store, zap.NewNop())

	report, err := verifier.VerifyChain(ctx, 3, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("partial range over valid chain reported divergent: %s", report)
	}
	if report.Checked != 3 {
		t.Errorf("checked: got %d, want 3", report.Checked)
	}
}

func TestVerifyChain_repeatedRunsAgree(t *testing.T) {
	store := seedChain(t, 5)
	e, err := store.GetBySequence(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	e.TaxAmount = decimal.RequireFromString("0.01")

	verifier := journal.NewVerifier(store, zap.NewNop())
	first, err := verifier.VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := verifier.VerifyChain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if *first != *second {
		t.Errorf("verification is not idempotent: %+v vs %+v", first, second)
	}
}

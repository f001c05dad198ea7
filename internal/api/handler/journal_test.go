package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/api/handler"
	"github.com/cantinahq/fiscal/internal/audit"
	"github.com/cantinahq/fiscal/internal/journal"
)

var ctx = context.Background()

func passthrough(c *gin.Context) { c.Next() }

func setupJournalRouter(t *testing.T, opts ...journal.MemoryOption) (*gin.Engine, *journal.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	store := journal.NewMemoryStore(opts...)
	verifier := journal.NewVerifier(store, zap.NewNop())
	auditSvc := audit.NewService(audit.NewMemoryRepository(), zap.NewNop())
	h := handler.NewJournalHandler(store, verifier, auditSvc, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1, passthrough)
	return r, store
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJournalAppend_201(t *testing.T) {
	router, _ := setupJournalRouter(t)

	w := postJSON(router, "/api/v1/journal/entries", `{
		"type": "SALE",
		"reference_id": "order-1",
		"amount": "10.00",
		"tax_amount": "1.90",
		"payment_method": "CARD",
		"actor_id": "cashier-1"
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["sequence"].(float64)) != 1 {
		t.Errorf("expected sequence 1, got %v", resp["sequence"])
	}
	if len(resp["digest"].(string)) != 64 {
		t.Errorf("expected 64-char digest, got %v", resp["digest"])
	}
}

func TestJournalAppend_foldsPaymentMethodIntoPayload(t *testing.T) {
	router, store := setupJournalRouter(t)

	w := postJSON(router, "/api/v1/journal/entries", `{
		"type": "SALE",
		"amount": "10.00",
		"tax_amount": "1.90",
		"payment_method": "CASH",
		"actor_id": "cashier-1",
		"payload": {"table": 7}
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	e, err := store.GetBySequence(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["payment_method"] != "CASH" {
		t.Errorf("payment method not folded into payload: %s", e.Payload)
	}
	if payload["table"] != float64(7) {
		t.Errorf("caller payload field lost: %s", e.Payload)
	}
}

func TestJournalAppend_400_invalidDraft(t *testing.T) {
	router, _ := setupJournalRouter(t)

	w := postJSON(router, "/api/v1/journal/entries", `{
		"type": "SALE",
		"amount": "-10.00",
		"tax_amount": "1.90",
		"actor_id": "cashier-1"
	}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJournalAppend_400_badDecimal(t *testing.T) {
	router, _ := setupJournalRouter(t)

	w := postJSON(router, "/api/v1/journal/entries", `{
		"type": "SALE",
		"amount": "ten euros",
		"tax_amount": "1.90",
		"actor_id": "cashier-1"
	}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJournalAppend_422_sealedPeriod(t *testing.T) {
	router, _ := setupJournalRouter(t, journal.WithSealedChecker(
		func(_ context.Context, ts time.Time) (bool, error) { return true, nil },
	))

	w := postJSON(router, "/api/v1/journal/entries", `{
		"type": "SALE",
		"amount": "10.00",
		"tax_amount": "1.90",
		"actor_id": "cashier-1"
	}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["reason"] != "period_sealed" {
		t.Errorf("expected reason period_sealed, got %v", resp["reason"])
	}
}

func TestJournalOverview_emptyJournal(t *testing.T) {
	router, _ := setupJournalRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["entries"].(float64)) != 0 {
		t.Errorf("expected 0 entries, got %v", resp["entries"])
	}
	if resp["tail_digest"] != journal.GenesisDigest {
		t.Errorf("expected genesis tail digest, got %v", resp["tail_digest"])
	}
}

func TestJournalGetEntry_200(t *testing.T) {
	router, store := setupJournalRouter(t)
	if _, err := store.Append(ctx, journal.Draft{
		Type:      journal.TypeSale,
		Amount:    decimal.RequireFromString("10.00"),
		TaxAmount: decimal.RequireFromString("1.90"),
		ActorID:   "cashier-1",
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/entries/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJournalGetEntry_404(t *testing.T) {
	router, _ := setupJournalRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/entries/999", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestJournalGetEntry_400_invalidSeq(t *testing.T) {
	router, _ := setupJournalRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/entries/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestJournalGetRange_defaultsToTail(t *testing.T) {
	router, store := setupJournalRouter(t)
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, journal.Draft{
			Type:      journal.TypeSale,
			Amount:    decimal.RequireFromString("10.00"),
			TaxAmount: decimal.RequireFromString("1.90"),
			ActorID:   "cashier-1",
		}); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/entries?from=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Entries []journal.Entry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if resp.Entries[1].Sequence != 3 {
		t.Errorf("expected range to reach the tail, last sequence %d", resp.Entries[1].Sequence)
	}
}

func TestJournalGetRange_emptyJournalWithoutTo(t *testing.T) {
	router, _ := setupJournalRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/entries?from=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if entries, ok := resp["entries"].([]any); !ok || len(entries) != 0 {
		t.Errorf("expected empty entries array, got %v", resp["entries"])
	}
}

func TestJournalGetRange_400_tooWide(t *testing.T) {
	router, _ := setupJournalRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/entries?from=1&to=5000", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestJournalVerify_200_valid(t *testing.T) {
	router, store := setupJournalRouter(t)
	if _, err := store.Append(ctx, journal.Draft{
		Type:      journal.TypeSale,
		Amount:    decimal.RequireFromString("10.00"),
		TaxAmount: decimal.RequireFromString("1.90"),
		ActorID:   "cashier-1",
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestJournalVerify_200_divergent(t *testing.T) {
	router, store := setupJournalRouter(t)
	if _, err := store.Append(ctx, journal.Draft{
		Type:      journal.TypeSale,
		Amount:    decimal.RequireFromString("10.00"),
		TaxAmount: decimal.RequireFromString("1.90"),
		ActorID:   "cashier-1",
	}); err != nil {
		t.Fatal(err)
	}
	e, err := store.GetBySequence(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	e.Amount = decimal.RequireFromString("999.99")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journal/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Divergence is a report, not an HTTP failure.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["valid"] != false {
		t.Errorf("expected valid=false, got %v", resp["valid"])
	}
	if resp["finding"] != string(journal.FindingDigestMismatch) {
		t.Errorf("expected finding %s, got %v", journal.FindingDigestMismatch, resp["finding"])
	}
}

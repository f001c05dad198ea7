package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/api/handler"
	"github.com/cantinahq/fiscal/internal/audit"
	"github.com/cantinahq/fiscal/internal/closure"
	"github.com/cantinahq/fiscal/internal/journal"
)

func setupClosureRouter(t *testing.T) (*gin.Engine, *journal.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	store := journal.NewMemoryStore()
	svc := closure.NewService(store, closure.NewMemoryRepository(), zap.NewNop())
	auditSvc := audit.NewService(audit.NewMemoryRepository(), zap.NewNop())
	h := handler.NewClosureHandler(svc, auditSvc, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1, passthrough)
	return r, store
}

func seedSale(t *testing.T, store *journal.MemoryStore, ts time.Time) {
	t.Helper()
	if _, err := store.Append(ctx, journal.Draft{
		Type:      journal.TypeSale,
		Amount:    decimal.RequireFromString("10.00"),
		TaxAmount: decimal.RequireFromString("1.90"),
		Timestamp: ts,
		ActorID:   "cashier-1",
	}); err != nil {
		t.Fatal(err)
	}
}

func createBulletin(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := postJSON(router, "/api/v1/closures", `{
		"period_start": "2025-07-05T00:00:00Z",
		"period_end": "2025-07-06T00:00:00Z",
		"type": "DAILY"
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp["id"].(string)
}

func TestClosureCreate_201(t *testing.T) {
	router, store := setupClosureRouter(t)
	seedSale(t, store, time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC))

	id := createBulletin(t, router)
	if id == "" {
		t.Fatal("bulletin id missing from response")
	}
}

func TestClosureCreate_400_invertedPeriod(t *testing.T) {
	router, _ := setupClosureRouter(t)

	w := postJSON(router, "/api/v1/closures", `{
		"period_start": "2025-07-06T00:00:00Z",
		"period_end": "2025-07-05T00:00:00Z",
		"type": "DAILY"
	}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestClosureSeal_fullLifecycle(t *testing.T) {
	router, store := setupClosureRouter(t)
	seedSale(t, store, time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC))
	id := createBulletin(t, router)

	w := postJSON(router, fmt.Sprintf("/api/v1/closures/%s/seal", id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sealed map[string]any
	json.Unmarshal(w.Body.Bytes(), &sealed)
	if sealed["sealed"] != true {
		t.Errorf("expected sealed=true, got %v", sealed["sealed"])
	}
	if len(sealed["digest"].(string)) != 64 {
		t.Errorf("expected 64-char bulletin digest, got %v", sealed["digest"])
	}

	// Sealing again conflicts.
	w = postJSON(router, fmt.Sprintf("/api/v1/closures/%s/seal", id), "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second seal: expected 409, got %d", w.Code)
	}

	// So does recomputing.
	w = postJSON(router, fmt.Sprintf("/api/v1/closures/%s/recompute", id), "")
	if w.Code != http.StatusConflict {
		t.Fatalf("recompute after seal: expected 409, got %d", w.Code)
	}
}

func TestClosureSeal_422_emptyPeriod(t *testing.T) {
	router, _ := setupClosureRouter(t)
	id := createBulletin(t, router)

	w := postJSON(router, fmt.Sprintf("/api/v1/closures/%s/seal", id), "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestClosureSeal_404(t *testing.T) {
	router, _ := setupClosureRouter(t)

	w := postJSON(router, "/api/v1/closures/7d62f140-72a3-4a3e-b8f5-0a3c6f3f5a2e/seal", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestClosureGet_400_invalidID(t *testing.T) {
	router, _ := setupClosureRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/closures/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestClosureVerify_200(t *testing.T) {
	router, store := setupClosureRouter(t)
	seedSale(t, store, time.Date(2025, 7, 5, 12, 0, 0, 0, time.UTC))
	id := createBulletin(t, router)

	w := postJSON(router, fmt.Sprintf("/api/v1/closures/%s/seal", id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("seal: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/closures/%s/verify", id), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %s", rec.Body.String())
	}
}

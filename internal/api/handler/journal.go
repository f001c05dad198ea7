package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/audit"
	"github.com/cantinahq/fiscal/internal/journal"
)

// JournalHandler exposes the fiscal journal over HTTP: append for the
// order-processing subsystem, reads and chain verification for compliance
// tooling.
type JournalHandler struct {
	store    journal.Store
	verifier *journal.Verifier
	audit    *audit.Service
	logger   *zap.Logger
}

// NewJournalHandler creates a JournalHandler.
func NewJournalHandler(store journal.Store, verifier *journal.Verifier, auditSvc *audit.Service, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{store: store, verifier: verifier, audit: auditSvc, logger: logger}
}

// Register mounts the journal routes on the given router group. protected
// wraps the append route; reads stay open to compliance tooling.
func (h *JournalHandler) Register(rg *gin.RouterGroup, protected gin.HandlerFunc) {
	j := rg.Group("/journal")
	{
		j.POST("/entries", protected, h.Append)
		j.GET("", h.Overview)
		j.GET("/entries/:seq", h.GetEntry)
		j.GET("/entries", h.GetRange)
		j.GET("/verify", h.Verify)
	}
}

type appendRequest struct {
	Type          string          `json:"type" binding:"required"`
	ReferenceID   string          `json:"reference_id"`
	Amount        string          `json:"amount" binding:"required"`
	TaxAmount     string          `json:"tax_amount" binding:"required"`
	PaymentMethod string          `json:"payment_method"`
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       string          `json:"actor_id"`
	Payload       json.RawMessage `json:"payload"`
}

type appendResponse struct {
	Sequence int64  `json:"sequence"`
	Digest   string `json:"digest"`
}

// Append handles POST /journal/entries.
func (h *JournalHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal string"})
		return
	}
	tax, err := decimal.NewFromString(req.TaxAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tax_amount must be a decimal string"})
		return
	}

	actor := req.ActorID
	if actor == "" {
		actor = Actor(c)
	}

	payload, err := foldPaymentMethod(req.Payload, req.PaymentMethod)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be a JSON object"})
		return
	}

	entry, err := h.store.Append(c.Request.Context(), journal.Draft{
		Type:        journal.EntryType(req.Type),
		ReferenceID: req.ReferenceID,
		Amount:      amount,
		TaxAmount:   tax,
		Payload:     payload,
		Timestamp:   req.Timestamp,
		ActorID:     actor,
	})
	if err != nil {
		h.appendError(c, err)
		return
	}

	RecordAppend(string(entry.Type))
	c.JSON(http.StatusCreated, appendResponse{Sequence: entry.Sequence, Digest: entry.Digest})
}

// appendError maps the journal error taxonomy onto HTTP statuses: conflicts
// are retryable 409s, sealed periods are user-facing 422s, storage failures
// are 500s with indeterminate effect.
func (h *JournalHandler) appendError(c *gin.Context, err error) {
	var storageErr *journal.StorageError
	switch {
	case errors.Is(err, journal.ErrInvalidDraft):
		RecordAppendRejection("invalid_draft")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, journal.ErrConflict):
		RecordAppendRejection("conflict")
		c.JSON(http.StatusConflict, gin.H{
			"error":     "concurrent append conflict",
			"retryable": true,
		})
	case errors.Is(err, journal.ErrPeriodSealed):
		RecordAppendRejection("period_sealed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "timestamp falls inside a sealed closure period",
			"reason": "period_sealed",
		})
	case errors.As(err, &storageErr):
		RecordAppendRejection("storage_failure")
		h.logger.Error("journal append storage failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":         "storage failure; append effect is indeterminate",
			"indeterminate": true,
		})
	default:
		h.logger.Error("journal append failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "append failed"})
	}
}

// Overview handles GET /journal, returning the chain tail: entry count and
// last digest.
func (h *JournalHandler) Overview(c *gin.Context) {
	tail, err := h.store.GetLast(c.Request.Context())
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"entries": 0, "tail_digest": journal.GenesisDigest})
			return
		}
		h.logger.Error("journal tail read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": tail.Sequence, "tail_digest": tail.Digest})
}

// GetEntry handles GET /journal/entries/:seq.
func (h *JournalHandler) GetEntry(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}

	entry, err := h.store.GetBySequence(c.Request.Context(), seq)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.logger.Error("journal read failed", zap.Int64("seq", seq), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetRange handles GET /journal/entries?from=&to=. from defaults to 1 and
// to defaults to the chain tail; the range may cover at most 1000 entries.
func (h *JournalHandler) GetRange(c *gin.Context) {
	from, err := strconv.ParseInt(c.DefaultQuery("from", "1"), 10, 64)
	if err != nil || from < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a positive integer"})
		return
	}

	var to int64
	if raw := c.Query("to"); raw == "" {
		tail, err := h.store.GetLast(c.Request.Context())
		if err != nil {
			if errors.Is(err, journal.ErrNotFound) {
				c.JSON(http.StatusOK, gin.H{"entries": []*journal.Entry{}})
				return
			}
			h.logger.Error("journal tail read failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal"})
			return
		}
		to = tail.Sequence
	} else if to, err = strconv.ParseInt(raw, 10, 64); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be an integer"})
		return
	}
	if to < from {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must satisfy 1 <= from <= to"})
		return
	}
	if to-from >= 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "range may cover at most 1000 entries"})
		return
	}

	entries, err := h.store.GetRange(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("journal range read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Verify handles GET /journal/verify?from=&to=: recomputes the chain and
// returns the verification report. The HTTP status is 200 even for a
// divergent chain; the report's valid flag carries the verdict.
func (h *JournalHandler) Verify(c *gin.Context) {
	from, _ := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	to, _ := strconv.ParseInt(c.DefaultQuery("to", "0"), 10, 64)

	report, err := h.verifier.VerifyChain(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("chain verification errored", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not complete"})
		return
	}

	RecordChainVerification(report.Valid)
	if !report.Valid {
		h.logger.Warn("chain verification found divergence",
			zap.String("finding", string(report.Finding)),
			zap.Int64("sequence", report.Sequence),
		)
		h.audit.Record(c.Request.Context(), audit.Draft{
			ActorID:       orSystem(Actor(c)),
			Action:        "chain.divergence",
			ResourceType:  "journal",
			ResourceID:    strconv.FormatInt(report.Sequence, 10),
			Details:       report,
			OriginAddress: c.ClientIP(),
		})
	}
	c.JSON(http.StatusOK, report)
}

// foldPaymentMethod merges the payment method into the payload object so it is
// covered by the entry digest alongside the caller's business fields.
func foldPaymentMethod(payload json.RawMessage, method string) (json.RawMessage, error) {
	if method == "" {
		return payload, nil
	}
	obj := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, err
		}
	}
	obj["payment_method"] = method
	return json.Marshal(obj)
}

func orSystem(actor string) string {
	if actor == "" {
		return "fiscal-system"
	}
	return actor
}

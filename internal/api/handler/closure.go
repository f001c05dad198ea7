package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/audit"
	"github.com/cantinahq/fiscal/internal/closure"
)

// ClosureHandler exposes the closure-bulletin lifecycle over HTTP for the
// administrative scheduling surface.
type ClosureHandler struct {
	svc    *closure.Service
	audit  *audit.Service
	logger *zap.Logger
}

// NewClosureHandler creates a ClosureHandler.
func NewClosureHandler(svc *closure.Service, auditSvc *audit.Service, logger *zap.Logger) *ClosureHandler {
	return &ClosureHandler{svc: svc, audit: auditSvc, logger: logger}
}

// Register mounts the closure routes. The entire lifecycle is privileged.
func (h *ClosureHandler) Register(rg *gin.RouterGroup, protected gin.HandlerFunc) {
	cl := rg.Group("/closures")
	{
		cl.POST("", protected, h.Create)
		cl.POST("/:id/seal", protected, h.Seal)
		cl.POST("/:id/recompute", protected, h.Recompute)
		cl.GET("/:id", h.Get)
		cl.GET("/:id/verify", h.Verify)
	}
}

type createBulletinRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	Type        string    `json:"type" binding:"required"`
}

// Create handles POST /closures: drafts an unsealed bulletin for the period.
func (h *ClosureHandler) Create(c *gin.Context) {
	var req createBulletinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.svc.CreateBulletin(c.Request.Context(), req.PeriodStart, req.PeriodEnd, closure.ClosureType(req.Type))
	if err != nil {
		if errors.Is(err, closure.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("bulletin creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create bulletin"})
		return
	}

	h.audit.Record(c.Request.Context(), audit.Draft{
		ActorID:       orSystem(Actor(c)),
		Action:        "closure.create",
		ResourceType:  "closure_bulletin",
		ResourceID:    b.ID.String(),
		Details:       gin.H{"period_start": b.PeriodStart, "period_end": b.PeriodEnd, "type": b.Type},
		OriginAddress: c.ClientIP(),
	})
	c.JSON(http.StatusCreated, b)
}

// Seal handles POST /closures/:id/seal: the one-way seal transition.
func (h *ClosureHandler) Seal(c *gin.Context) {
	id, ok := h.bulletinID(c)
	if !ok {
		return
	}

	b, err := h.svc.Seal(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, closure.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "bulletin not found"})
		case errors.Is(err, closure.ErrAlreadySealed):
			c.JSON(http.StatusConflict, gin.H{"error": "bulletin already sealed"})
		case errors.Is(err, closure.ErrEmptyPeriod):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "period covers no journal entries"})
		default:
			h.logger.Error("bulletin seal failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seal bulletin"})
		}
		return
	}

	RecordBulletinSealed()
	h.audit.Record(c.Request.Context(), audit.Draft{
		ActorID:       orSystem(Actor(c)),
		Action:        "closure.seal",
		ResourceType:  "closure_bulletin",
		ResourceID:    b.ID.String(),
		Details:       gin.H{"digest": b.Digest, "entry_count": b.Aggregates.EntryCount},
		OriginAddress: c.ClientIP(),
	})
	c.JSON(http.StatusOK, b)
}

// Recompute handles POST /closures/:id/recompute: refreshes the aggregates
// of an unsealed bulletin.
func (h *ClosureHandler) Recompute(c *gin.Context) {
	id, ok := h.bulletinID(c)
	if !ok {
		return
	}

	b, err := h.svc.Recompute(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, closure.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "bulletin not found"})
		case errors.Is(err, closure.ErrAlreadySealed):
			c.JSON(http.StatusConflict, gin.H{"error": "bulletin already sealed"})
		default:
			h.logger.Error("bulletin recompute failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to recompute bulletin"})
		}
		return
	}
	c.JSON(http.StatusOK, b)
}

// Get handles GET /closures/:id.
func (h *ClosureHandler) Get(c *gin.Context) {
	id, ok := h.bulletinID(c)
	if !ok {
		return
	}

	b, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, closure.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bulletin not found"})
			return
		}
		h.logger.Error("bulletin read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query bulletin"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// Verify handles GET /closures/:id/verify: recomputes aggregates and the
// bulletin digest and reports any mismatch.
func (h *ClosureHandler) Verify(c *gin.Context) {
	id, ok := h.bulletinID(c)
	if !ok {
		return
	}

	result, err := h.svc.VerifyBulletin(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, closure.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bulletin not found"})
			return
		}
		h.logger.Error("bulletin verification errored", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not complete"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ClosureHandler) bulletinID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

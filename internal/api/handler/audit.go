package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/audit"
)

// AuditHandler exposes the audit trail query API for the admin dashboard.
type AuditHandler struct {
	svc    *audit.Service
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(svc *audit.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// Register mounts the audit routes. Reading the trail is itself privileged.
func (h *AuditHandler) Register(rg *gin.RouterGroup, protected gin.HandlerFunc) {
	rg.GET("/audit", protected, h.Query)
}

// Query handles GET /audit with optional filters: actor_id, action,
// resource_type, from, to (RFC 3339), limit, offset.
func (h *AuditHandler) Query(c *gin.Context) {
	f := audit.Filter{
		ActorID:      c.Query("actor_id"),
		Action:       c.Query("action"),
		ResourceType: c.Query("resource_type"),
	}

	var err error
	if f.From, err = parseTimeParam(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
		return
	}
	if f.To, err = parseTimeParam(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
		return
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if f.Limit > 500 {
		f.Limit = 500
	}

	page, err := h.svc.Query(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit trail"})
		return
	}
	if page.Entries == nil {
		page.Entries = []*audit.Entry{}
	}
	c.JSON(http.StatusOK, page)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

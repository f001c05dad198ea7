package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cantinahq/fiscal/internal/guard"
)

// GuardHandler exposes the mutation guard to out-of-process collaborators.
// In-process callers should use guard.Guard directly inside their own
// transaction boundary; this endpoint exists for the order-processing
// services that only speak HTTP.
type GuardHandler struct {
	guard  *guard.Guard
	logger *zap.Logger
}

// NewGuardHandler creates a GuardHandler.
func NewGuardHandler(g *guard.Guard, logger *zap.Logger) *GuardHandler {
	return &GuardHandler{guard: g, logger: logger}
}

// Register mounts the guard routes on the given router group.
func (h *GuardHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/guard/check", h.Check)
}

// Check handles GET /guard/check?timestamp=: reports whether a business
// mutation effective at the given time would be allowed.
func (h *GuardHandler) Check(c *gin.Context) {
	ts, err := time.Parse(time.RFC3339, c.Query("timestamp"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC 3339"})
		return
	}

	decision, err := h.guard.CheckAllowed(c.Request.Context(), ts)
	if err != nil {
		h.logger.Error("guard check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "guard check failed"})
		return
	}
	c.JSON(http.StatusOK, decision)
}

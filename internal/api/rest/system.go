package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/KevinKickass/xkop-gateway/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.GetCurrentStatus())
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// Trigger shutdown in background; the request context ends with this handler
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.gw.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}

// GET /api/v1/audit?limit=
func (s *Server) getAudit(c *gin.Context) {
	store := s.gw.Storage()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeAuditDisabled, "Database disabled", nil))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeAuditBadRequest, "Invalid limit", c.Query("limit")))
		return
	}

	entries, err := store.RecentSets(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeAuditLoad, "Failed to load audit", types.Detail(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

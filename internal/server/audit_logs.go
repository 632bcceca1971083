package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/clinicore/clinicore/internal/audit/domain"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	logs, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		TargetType: c.Query("target_type"),
		TargetID:   c.Query("target_id"),
		Limit:      queryLimit(c, 100),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}

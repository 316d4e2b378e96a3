package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthCheckHandler handles POST /health-check: an on-demand Ops Control
// Loop scan pass, returned synchronously, independent of the loop's own
// ticker cadence. Used by operators to force a sweep after deploying a
// config change (e.g. a new tag requirement or actor allowlist).
func (s *Server) healthCheckHandler(c *gin.Context) {
	if s.opsLoop == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ops loop not ready"})
		return
	}

	report, err := s.opsLoop.ScanOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

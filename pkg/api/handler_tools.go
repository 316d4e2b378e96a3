package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/worunner/worunner/pkg/tools"
)

// dispatchHandler handles POST /tools/dispatch. It is a thin wrapper over
// tools.Dispatcher.Dispatch — the dispatcher itself never returns a Go
// error, so the only failure mode here is a malformed request body.
func (s *Server) dispatchHandler(c *gin.Context) {
	if s.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not ready"})
		return
	}

	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.dispatcher.Dispatch(c.Request.Context(), req.ToolName, req.Input, tools.CallMeta{
		Actor:        req.Actor,
		WorkOrderID:  req.WorkOrderID,
		WorkOrderSlug: req.WorkOrderSlug,
	})

	c.JSON(http.StatusOK, DispatchResponse{
		Success:  result.Success,
		Data:     result.Data,
		Error:    result.Error,
		Terminal: result.Terminal,
	})
}

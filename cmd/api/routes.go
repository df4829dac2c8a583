package main

import (
	"rtc-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		// Media join credentials.
		v1.POST("/rtc/token", h.IssueToken)

		// Call signaling. Incoming-invite delivery to clients is a live
		// store subscription, not an HTTP surface.
		calls := v1.Group("/calls")
		{
			calls.POST("", h.CreateCall)
			calls.POST("/:call_id/accept", h.AcceptCall)
			calls.POST("/:call_id/end", h.EndCall)
		}
	}
}

package main

import (
	"voiceagent-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Authenticity comes from the provider
	// signature, checked inside the handler, not from a bearer token.
	r.POST("/webhooks/voice", h.Webhook)

	// Token issuance for the dashboard (shared key exchange).
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		agents := v1.Group("/agents")
		{
			agents.POST("", h.CreateAgent)
			agents.GET("", h.ListAgents)
		}

		calls := v1.Group("/calls")
		{
			calls.POST("/trigger", h.TriggerCall)
			calls.GET("/results", h.ListCallResults)
			calls.GET("/stats", h.CallStats)
		}
	}
}

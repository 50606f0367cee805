package rest

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler) {
	// Health check endpoint (no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Holder endpoints (public read access)
		v1.GET("/holders/:contract", handler.GetHolders)

		// Population trigger (open; at most one run per contract regardless)
		v1.POST("/holders/:contract", handler.TriggerPopulation)

		// Progress endpoint (public read access)
		v1.GET("/holders/:contract/progress", handler.GetProgress)

		// Contract listing (public read access)
		v1.GET("/contracts", handler.ListContracts)
	}
}

package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NethermindEth/chaoschain-persona/api/handlers"
)

// SetupRoutes initializes all API endpoints
func SetupRoutes(router *gin.Engine, h *handlers.Handler, gatherer prometheus.Gatherer) {
	api := router.Group("/api")
	{
		api.GET("/personas", h.ListProfiles)

		persona := api.Group("/persona/:owner")
		persona.GET("", h.GetProfile)
		persona.DELETE("", h.WipeProfile)
		persona.POST("/estimates", h.SubmitEstimate)
		persona.POST("/restore", h.RestoreProfile)
		persona.POST("/resync", h.ResyncProfile)

		api.GET("/sync/state", h.GetSyncState)
		api.GET("/sync/ws", h.HandleWebSocket)
	}

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

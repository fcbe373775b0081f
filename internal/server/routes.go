package server

import (
	"modelplayground/internal/blob"

	"github.com/gin-gonic/gin"
)

func (s *Server) setupRoutes() {
	gin.SetMode(s.ginMode)
	s.router = gin.New()

	// model names travel percent-encoded in a single path segment (fal-ai%2Fflux)
	s.router.UseRawPath = true
	s.router.UnescapePathValues = true

	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.maxBodySizeMiddleware())
	s.router.Use(s.rateLimitMiddleware())

	s.router.GET("/health", s.healthCheck)

	if local, ok := s.store.(*blob.LocalStore); ok {
		s.router.Static(blob.LocalStorePrefix, local.Dir())
	}

	api := s.router.Group("/api")
	{
		api.GET("/stats", s.getStatsData)

		api.GET("/models", s.listModels)
		api.GET("/models/:model", s.getModelSchema)
		api.GET("/lora-options", s.listLoraOptions)

		api.POST("/submit/:model", s.submitRequest)
		api.GET("/submit/:model", s.requestStatus)
		api.DELETE("/submit/:model", s.cancelRequest)
		api.GET("/results/:model/:requestId", s.requestResult)

		api.POST("/replicate", s.replicatePredict)
		api.POST("/upload", s.uploadFile)
		api.POST("/webhooks/fal", s.falWebhook)
	}
}

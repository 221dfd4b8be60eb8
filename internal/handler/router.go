package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docrag/internal/middleware"
)

type RouterDeps struct {
	RAG       *RAGHandler
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	limited := api.Group("")
	limited.Use(middleware.RateLimit(deps.RateLimit))
	limited.POST("/upload", deps.RAG.Upload)
	limited.POST("/query", deps.RAG.Query)

	api.GET("/documents", deps.RAG.Documents)
	api.POST("/clear", deps.RAG.Clear)
	api.GET("/health", deps.RAG.Health)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parley/internal/pkg/mongodb"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	mongo *mongodb.Client
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(mongo *mongodb.Client) *HealthHandler {
	return &HealthHandler{mongo: mongo}
}

// Health 健康检查
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready 就绪检查，确认依赖可用
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.mongo != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.mongo.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"detail": "database unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

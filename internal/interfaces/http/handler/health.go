package handler

import (
	"github.com/gin-gonic/gin"
)

// HealthHandler serves the unauthenticated liveness endpoint.
type HealthHandler struct {
	BaseHandler
	appName string
	env     string
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(appName, env string) *HealthHandler {
	return &HealthHandler{appName: appName, env: env}
}

// RegisterRoutes registers the health route under the API group.
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.health)
}

func (h *HealthHandler) health(c *gin.Context) {
	h.Success(c, gin.H{
		"status": "ok",
		"app":    h.appName,
		"env":    h.env,
	})
}

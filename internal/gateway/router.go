package gateway

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the session websocket endpoint on r.
func RegisterRoutes(r gin.IRouter, h *Handler) {
	r.GET("/ws/agent/:tenant_id/:session_id", h.HandleConnection)
}

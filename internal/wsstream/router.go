package wsstream

import "github.com/gin-gonic/gin"

// SetupRoutes registers the WebSocket streaming routes under router.
func SetupRoutes(router *gin.RouterGroup, handler *Handler) {
	router.GET("/members/:memberId/stream", handler.StreamMember)
	router.GET("/stream", handler.StreamAll)
}

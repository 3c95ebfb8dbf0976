package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/coordinator"
)

// SetupRoutes registers the status/control surface under router, which
// should be the "/api/v1" group. Grounded on the teacher's
// agent/api.SetupRoutes.
func SetupRoutes(router *gin.RouterGroup, coord *coordinator.Coordinator, log *logger.Logger) {
	handler := NewHandler(coord, log)

	router.POST("/messages", handler.SendMessage)
	router.POST("/cancel", handler.Cancel)
	router.POST("/stop", handler.Stop)
	router.GET("/status", handler.GetStatus)
	router.GET("/queue", handler.GetQueue)
	router.GET("/history", handler.GetHistory)
}

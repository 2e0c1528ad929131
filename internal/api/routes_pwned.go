package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/breachrange/internal/handlers"
)

func registerPwnedRoutes(api *gin.RouterGroup, handler *handlers.PwnedHandler, throttle gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	api.POST("/pwned-range", throttle, handler.Range)
	api.POST("/check", throttle, handler.Check)
}

func registerMonitoringRoutes(api *gin.RouterGroup, handler *handlers.MonitoringHandler) {
	if api == nil || handler == nil {
		return
	}

	api.GET("/stats", handler.Summary)
}

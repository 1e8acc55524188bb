package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterDispatchRoutes mounts the control surface. metrics may be nil.
func RegisterDispatchRoutes(router gin.IRouter, h *DispatchHandler, metrics http.Handler) {
	router.GET("/health", h.Health)
	router.GET("/printers", h.ListPrinters)
	router.GET("/status/:printerId", h.GetStatus)
	router.POST("/print", h.Print)
	router.GET("/queue/:printerId", h.GetQueue)
	router.DELETE("/queue/:printerId/clear", h.ClearQueue)
	router.POST("/test", h.TestPrint)
	router.GET("/history/:printerId", h.GetHistory)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
}

package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the acquisition API
//
//	/api/session/login          POST   exchange credentials for session cookies
//	/api/acquisitions           POST   start a run, GET recent runs
//	/api/acquisitions/:id       GET    snapshot, DELETE cancel
//	/api/acquisitions/:id/events GET   websocket progress stream
func RegisterRoutes(router gin.IRouter, h *Handler) {
	router.POST("/api/session/login", h.Login)

	acq := router.Group("/api/acquisitions")
	{
		acq.POST("", h.StartAcquisition)
		acq.GET("", h.ListAcquisitions)
		acq.GET("/:id", h.GetAcquisition)
		acq.DELETE("/:id", h.CancelAcquisition)
		acq.GET("/:id/events", h.StreamEvents)
	}
}

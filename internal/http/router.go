// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridebook/internal/http/handlers"
	"ridebook/internal/http/middleware"
	"ridebook/internal/infra"
	"ridebook/internal/modules/booking"
)

type RouterDeps struct {
	Booking  *booking.Service
	Drivers  handlers.DriverRegistry
	Verifier infra.TokenVerifier
	Log      *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	bookingHandler := handlers.NewBookingHandler(deps.Booking)
	streamHandler := handlers.NewStreamHandler(deps.Booking, log)
	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings", bookingHandler.List)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	api.POST("/bookings/:id/complete", middleware.RequireRole(infra.RoleDriver, infra.RoleAdmin), bookingHandler.Complete)
	api.GET("/bookings/:id/stream", streamHandler.Stream)

	admin := api.Group("/admin", middleware.RequireRole(infra.RoleAdmin))
	adminHandler := handlers.NewAdminHandler(deps.Booking, deps.Drivers)
	admin.POST("/bookings/:id/assign", adminHandler.Assign)
	admin.GET("/drivers", adminHandler.ListDrivers)
	admin.PUT("/drivers/:id", adminHandler.PutDriver)
	admin.DELETE("/drivers/:id", adminHandler.DeleteDriver)

	return r
}

// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridesync/internal/http/handlers"
	"ridesync/internal/http/middleware"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Anonymous callers may browse pending trips; they get demo data.
	tripHandler := handlers.NewTripHandler(deps.Trips)
	api.GET("/trips/pending", middleware.OptionalAuth(deps.Verifier), tripHandler.Pending)

	authed := api.Group("", middleware.Auth(deps.Verifier))

	requestHandler := handlers.NewRequestHandler(deps.Registry)
	authed.GET("/requests", requestHandler.List)
	authed.POST("/requests", requestHandler.Create)
	authed.DELETE("/requests", requestHandler.Clear)
	authed.GET("/requests/:id", requestHandler.Get)
	authed.POST("/requests/:id/accept", requestHandler.Accept)
	authed.POST("/requests/:id/status", requestHandler.UpdateStatus)
	authed.GET("/users/:id/active-request", requestHandler.ActiveForUser)

	authed.POST("/trips", tripHandler.Create)
	authed.GET("/trips/history", tripHandler.History)
	authed.GET("/trips/active", tripHandler.Active)
	authed.GET("/trips/remote-status", tripHandler.RemoteStatus)
	authed.POST("/trips/:id/accept", tripHandler.Accept)
	authed.POST("/trips/:id/status", tripHandler.UpdateStatus)
	authed.POST("/trips/:id/cancel", tripHandler.Cancel)

	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Users)
	authed.GET("/sessions/me", sessionHandler.Get)
	authed.POST("/sessions/me/check", sessionHandler.Check)
	authed.POST("/sessions/me/start-order-flow", sessionHandler.StartOrderFlow)
	authed.POST("/sessions/me/cancel", sessionHandler.Cancel)
	authed.POST("/sessions/me/login", sessionHandler.Login)
	authed.POST("/sessions/me/logout", sessionHandler.Logout)

	locationHandler := handlers.NewLocationHandler(deps.Location, deps.NearbyRadiusKm)
	authed.POST("/locations", locationHandler.Update)
	authed.GET("/locations/nearby", locationHandler.Nearby)
	authed.GET("/locations/users/:role/:id", locationHandler.Get)
	authed.GET("/locations/users/:role/:id/history", locationHandler.History)
	authed.GET("/locations/trips/:id", locationHandler.Trip)
	authed.GET("/locations/trips/:id/eta", locationHandler.ETA)

	pricingHandler := handlers.NewPricingHandler(deps.Pricing)
	authed.POST("/pricing/estimate", pricingHandler.Estimate)

	eventHandler := handlers.NewEventHandler(deps.Events, deps.Hub, deps.Log)
	authed.GET("/events", eventHandler.Poll)
	authed.GET("/events/stream", eventHandler.Stream)

	return r
}

// Package router registers the HTTP routes and their middleware.
package router

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/movie-ticket-booking/internal/config"
	"github.com/iliyamo/movie-ticket-booking/internal/handler"
	"github.com/iliyamo/movie-ticket-booking/internal/middleware"
)

// Deps carries what the routes need.  Redis may be nil, which turns the
// response cache and rate limiter off.
type Deps struct {
	DB        handler.Pinger
	Redis     *redis.Client
	Keyfunc   jwt.Keyfunc
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig

	Bookings *handler.BookingHandler
	Admin    *handler.AdminHandler
	Shows    *handler.ShowHandler
	Webhook  *handler.WebhookHandler
}

// Register mounts every route on e.
func Register(e *echo.Echo, d Deps) {
	e.Validator = handler.NewValidator()
	e.GET("/healthz", handler.Health(d.DB))

	// Public catalog reads.
	cache := middleware.NewRedisCache(d.Cache, d.Redis)
	e.GET("/v1/shows/:id", d.Shows.GetShow, cache)
	e.GET("/v1/shows/:id/occupied", d.Shows.Occupied)

	// Provider callbacks authenticate by signature, not JWT.
	e.POST("/webhook/stripe", d.Webhook.Stripe)

	auth := middleware.JWTAuth(d.Keyfunc)
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)

	g := e.Group("/v1", auth, middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin))
	g.POST("/bookings", d.Bookings.Reserve, limit)
	g.GET("/my-bookings", d.Bookings.ListMine)
	g.GET("/bookings/:id", d.Bookings.Get)
	g.POST("/bookings/:id/confirm", d.Bookings.Confirm, limit)
	g.POST("/bookings/:id/cancel", d.Bookings.Cancel)
	g.DELETE("/bookings/:id", d.Bookings.Delete)

	admin := e.Group("/v1/admin", auth, middleware.RequireRole(middleware.RoleAdmin))
	admin.GET("/shows/:id/bookings", d.Admin.ListShowBookings)
	admin.POST("/bookings/:id/cancel", d.Admin.Cancel)
	admin.DELETE("/bookings/:id", d.Admin.Delete)
}

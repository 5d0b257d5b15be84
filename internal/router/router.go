// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/handler"
	"github.com/iliyamo/camp-registration/internal/middleware"
	"github.com/iliyamo/camp-registration/internal/utils"
)

// Deps are the pieces New wires together.  RateLimit and Cache may be nil.
type Deps struct {
	Log           zerolog.Logger
	JWTSecret     string
	Registrations *handler.RegistrationHandler
	Tents         *handler.TentHandler
	Jobs          *handler.JobHandler
	Health        echo.HandlerFunc
	Metrics       http.Handler
	RateLimit     echo.MiddlewareFunc
	Cache         echo.MiddlewareFunc
	BodyLimit     string
}

// New builds the admin API.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(d.Log)
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(d.Log))
	if d.BodyLimit != "" {
		e.Use(echomw.BodyLimit(d.BodyLimit))
	}

	RegisterRoutes(e, d)
	RegisterAdmin(e, d)
	return e
}

// RegisterRoutes registers the unauthenticated endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	if d.Health != nil {
		e.GET("/healthz", d.Health)
	}
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterAdmin registers /v1/admin behind JWT authentication, the ADMIN
// role and the rate limiter.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(d.JWTSecret))
	g.Use(middleware.RequireRole(utils.RoleAdmin))
	if d.RateLimit != nil {
		g.Use(d.RateLimit)
	}

	r := d.Registrations
	g.POST("/registrations", r.Create)
	g.GET("/registrations", r.List)
	g.GET("/registrations/:id", r.Get)
	g.GET("/registrations/:id/audit", r.Audit)
	g.POST("/registrations/:id/assets/:kind", r.UploadAsset)
	g.POST("/registrations/:id/spreadsheet", r.ProcessSpreadsheet)
	g.PUT("/registrations/:id/tents", r.ReserveTents)
	g.POST("/registrations/:id/submit", r.Submit)
	g.POST("/registrations/:id/confirm", r.Confirm)
	g.POST("/registrations/:id/reject", r.Reject)
	g.DELETE("/registrations/:id", r.Delete)
	g.GET("/registrations/:id/receipt", r.Receipt)

	var stockMW []echo.MiddlewareFunc
	if d.Cache != nil {
		stockMW = append(stockMW, d.Cache)
	}
	g.GET("/tent-types", d.Tents.Stock, stockMW...)
	g.POST("/tent-types", d.Tents.Create)

	if d.Jobs != nil {
		g.GET("/jobs/:id", d.Jobs.Get)
	}
}

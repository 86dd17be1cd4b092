// Package api wires the HTTP surface: routing, middleware, handlers.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/adscope/api/handler"
	"github.com/use-agent/adscope/api/middleware"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(deps *handler.Deps, startTime time.Time) *gin.Engine {
	gin.SetMode(deps.Cfg.Server.Mode)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(deps, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if deps.Cfg.Auth.Enabled {
		protected.Use(middleware.Auth(deps.Cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(deps.Cfg.RateLimit))

	// Interactive job control channel.
	protected.GET("/ws", handler.GetWS(deps))

	// Synchronous batch scrape.
	protected.POST("/scrape", handler.PostScrape(deps))

	// Async crawl runs.
	protected.POST("/runs", handler.PostRun(deps))
	protected.GET("/runs/:id", handler.GetRun(deps))

	// Ad-hoc vision extraction.
	protected.POST("/ocr/batch", handler.PostOCRBatch(deps))

	// Spreadsheet export of a session's records.
	protected.GET("/export", handler.GetExport(deps))

	return r
}

// Package handler contains the gin handlers for the HTTP and WebSocket API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/adscope/browser"
	"github.com/use-agent/adscope/cache"
	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/scrape"
	"github.com/use-agent/adscope/source"
	"github.com/use-agent/adscope/vision"
)

// Deps bundles the collaborators the handlers share. Nil members mean the
// corresponding source or feature is not configured.
type Deps struct {
	Cfg      *config.Config
	Browser  *browser.Browser
	Crawl    *source.CrawlClient
	Registry *scrape.Registry
	Cache    *cache.Cache
	Enricher *vision.Enricher
}

// pickAdapter resolves the source for a target URL: the search API when a key
// is configured, the headless browser when enabled, the managed crawl as the
// last resort. The second return value is non-nil when the chosen source also
// supports the per-ad details fetch.
func (d *Deps) pickAdapter(rawURL string) (source.Adapter, *source.SearchAPIAdapter, error) {
	query, err := source.ParseTargetURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	if d.Cfg.SearchAPI.APIKey != "" {
		a, err := source.NewSearchAPIAdapter(d.Cfg.SearchAPI, query)
		if err != nil {
			return nil, nil, err
		}
		return a, a, nil
	}

	if d.Browser != nil {
		open := func(ctx context.Context, target string) (source.PageSession, error) {
			return d.Browser.Open(ctx, target)
		}
		return source.NewBrowserAdapter(open, rawURL, 0), nil, nil
	}

	if d.Crawl != nil {
		return source.NewCrawlAdapter(d.Crawl, source.RunInput{URL: rawURL}), nil, nil
	}

	return nil, nil, models.NewScrapeError(models.ErrCodeNotConfigured,
		"no scraping source configured: set a search API key, enable the browser, or set a crawl API token", nil)
}

// respondError maps a ScrapeError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	se := asScrapeError(err)
	c.JSON(mapErrorToStatus(se), models.ScrapeResponse{
		Success: false,
		Error:   se.ToDetail(),
	})
}

func asScrapeError(err error) *models.ScrapeError {
	var se *models.ScrapeError
	if !errors.As(err, &se) {
		se = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}
	return se
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeAlreadyRun:
		return http.StatusConflict // 409
	case models.ErrCodeRateLimited, models.ErrCodeVisionRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeNavigation, models.ErrCodeUpstream:
		return http.StatusBadGateway // 502
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}

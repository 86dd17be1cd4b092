package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/use-agent/adscope/cache"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/scrape"
)

// PostScrape returns the handler for POST /api/v1/scrape (synchronous mode).
//
// Orchestration flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup when max_age_ms is set.
//  3. Pick the source and run the fetch loop to completion.
//  4. Details pass (search API sources only).
//  5. Vision pass for image ads when enabled and configured.
//  6. Cache store, respond.
func PostScrape(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		cacheKey := cache.Key(&req)
		if deps.Cache != nil && req.MaxAgeMs > 0 {
			if cached, hit := deps.Cache.Get(cacheKey, req.MaxAgeMs); hit {
				cached.CacheStatus = "hit"
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		adapter, search, err := deps.pickAdapter(req.URL)
		if err != nil {
			respondError(c, err)
			return
		}

		job := scrape.NewJob(uuid.NewString(), req.URL, adapter, deps.Cfg.Scrape, req.MaxResults)
		if err := job.Start(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		if err := job.Wait(c.Request.Context()); err != nil {
			job.Stop()
			respondError(c, models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err))
			return
		}

		records := job.Records()
		if failure := job.Failure(); failure != nil {
			// Partial results still go back to the caller alongside the error.
			c.JSON(mapErrorToStatus(failure), models.ScrapeResponse{
				Success: false,
				Total:   len(records),
				URL:     req.URL,
				Ads:     records,
				Error:   failure.ToDetail(),
			})
			return
		}

		fetchedDetails := false
		if *req.FetchDetails && search != nil {
			search.FetchDetails(c.Request.Context(), records, req.DetailsLimit)
			fetchedDetails = true
		}

		visionEnabled := false
		if *req.EnableOCR && deps.Enricher != nil {
			stats := deps.Enricher.Enrich(c.Request.Context(), records, req.OCRLimit)
			visionEnabled = stats.Attempted > 0
		}

		resp := &models.ScrapeResponse{
			Success:        true,
			Total:          len(records),
			URL:            req.URL,
			FetchedDetails: fetchedDetails,
			DetailsLimit:   req.DetailsLimit,
			VisionEnabled:  visionEnabled,
			VisionLimit:    req.OCRLimit,
			Ads:            records,
		}

		if deps.Cache != nil && req.MaxAgeMs > 0 {
			deps.Cache.Set(cacheKey, resp)
			resp.CacheStatus = "miss"
		}

		c.JSON(http.StatusOK, resp)
	}
}

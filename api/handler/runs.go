package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
	"github.com/use-agent/adscope/source"
	"github.com/use-agent/adscope/webhook"
)

// PostRun returns the handler for POST /api/v1/runs (async crawl mode).
// It starts a hosted crawl run and returns 202 immediately; progress is
// polled via GET /api/v1/runs/:id.
func PostRun(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.RunResponse{
				Success: false,
				Status:  models.RunStatusFailed,
				Message: err.Error(),
			})
			return
		}
		if req.MaxResults == 0 {
			req.MaxResults = 10000
		}

		if deps.Crawl == nil {
			respondError(c, models.NewScrapeError(models.ErrCodeNotConfigured,
				"crawl API token is not configured (APIFY_API_TOKEN)", nil))
			return
		}
		if _, err := source.ParseTargetURL(req.URL); err != nil {
			respondError(c, err)
			return
		}

		runID, err := deps.Crawl.StartRun(c.Request.Context(), source.RunInput{
			URL:        req.URL,
			MaxResults: req.MaxResults,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		if req.WebhookURL != "" {
			go watchRun(deps, runID, req.WebhookURL, req.WebhookSecret)
		}

		c.JSON(http.StatusAccepted, models.RunResponse{
			Success: true,
			Status:  models.RunStatusRunning,
			RunID:   runID,
			URL:     req.URL,
			Message: "crawl run started; poll GET /api/v1/runs/" + runID,
		})
	}
}

// GetRun returns the handler for GET /api/v1/runs/:id.
//
// Query parameters:
//
//	offset, limit — dataset window for result paging
//	partial=true  — return the window even while the run is still RUNNING
func GetRun(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Crawl == nil {
			respondError(c, models.NewScrapeError(models.ErrCodeNotConfigured,
				"crawl API token is not configured (APIFY_API_TOKEN)", nil))
			return
		}
		runID := c.Param("id")

		info, err := deps.Crawl.RunStatus(c.Request.Context(), runID)
		if err != nil {
			respondError(c, err)
			return
		}

		resp := models.RunStatusResponse{
			Success: true,
			Status:  info.Status,
			RunID:   info.RunID,
			Stats: models.RunStats{
				ItemsScraped: info.ItemCount,
				ItemCount:    info.ItemCount,
			},
			Total: info.ItemCount,
		}

		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(deps.Cfg.CrawlAPI.PageLimit)))
		partial := c.Query("partial") == "true"

		// A timed-out run still has a partially filled dataset worth serving.
		wantItems := info.Status == models.RunStatusSucceeded ||
			info.Status == models.RunStatusTimedOut ||
			(partial && info.Status == models.RunStatusRunning)
		if wantItems && info.DatasetID != "" {
			items, err := deps.Crawl.FetchItems(c.Request.Context(), info.DatasetID, offset, limit)
			if err != nil {
				respondError(c, err)
				return
			}
			items = source.ExpandPageItems(c.Request.Context(), items, "")
			resp.Ads = normalize.Filter(items, normalize.SourceCrawlAPI)
		}

		switch info.Status {
		case models.RunStatusFailed, models.RunStatusTimedOut, models.RunStatusAborted:
			resp.Success = false
			resp.Error = &models.ErrorDetail{
				Code:    models.ErrCodeUpstream,
				Message: "crawl run ended with status " + info.Status,
			}
		}

		c.JSON(http.StatusOK, resp)
	}
}

// watchRun follows a run to its terminal state and fires the registered
// webhook. It runs detached from the originating request.
func watchRun(deps *Deps, runID, webhookURL, secret string) {
	ctx, cancel := context.WithTimeout(context.Background(), deps.Cfg.CrawlAPI.RunTimeout+time.Minute)
	defer cancel()

	info, err := deps.Crawl.WaitRun(ctx, runID)
	if err != nil || info.Status != models.RunStatusSucceeded {
		status := models.RunStatusFailed
		if info != nil {
			status = info.Status
		}
		webhook.DeliverAsync(webhookURL, secret, &webhook.Event{
			Type:      webhook.EventRunFailed,
			RunID:     runID,
			Timestamp: time.Now().Unix(),
			Data:      gin.H{"status": status},
		})
		return
	}

	webhook.DeliverAsync(webhookURL, secret, &webhook.Event{
		Type:      webhook.EventRunCompleted,
		RunID:     runID,
		Timestamp: time.Now().Unix(),
		Data:      gin.H{"status": info.Status, "total": info.ItemCount},
	})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/adscope/models"
)

// maxOCRBatch caps how many images one batch request may carry.
const maxOCRBatch = 100

// PostOCRBatch returns the handler for POST /api/v1/ocr/batch: ad-hoc vision
// extraction over a caller-supplied list of creative images.
func PostOCRBatch(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.OCRBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.OCRBatchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		if len(req.Ads) == 0 {
			c.JSON(http.StatusBadRequest, models.OCRBatchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "ads list is empty",
				},
			})
			return
		}
		if deps.Enricher == nil {
			c.JSON(http.StatusInternalServerError, models.OCRBatchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNotConfigured,
					Message: "vision API key is not configured (ANTHROPIC_API_KEY)",
				},
			})
			return
		}

		items := req.Ads
		if len(items) > maxOCRBatch {
			items = items[:maxOCRBatch]
		}

		results, stats := deps.Enricher.ProcessBatch(c.Request.Context(), items)

		c.JSON(http.StatusOK, models.OCRBatchResponse{
			Success:   true,
			Processed: stats.Attempted,
			Stats:     stats,
			Results:   results,
		})
	}
}

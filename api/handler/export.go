package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/adscope/export"
	"github.com/use-agent/adscope/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GetExport returns the handler for GET /api/v1/export?session=<id>: the
// session's accumulated records as an XLSX attachment. Works for finished
// jobs and for running ones (exports what has been collected so far).
func GetExport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session")
		if sessionID == "" {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput,
				"session query parameter is required", nil))
			return
		}

		job, ok := deps.Registry.Get(sessionID)
		if !ok {
			c.JSON(http.StatusNotFound, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "unknown session: " + sessionID,
				},
			})
			return
		}

		records := job.Records()
		if len(records) == 0 {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput,
				"session has no records to export", nil))
			return
		}

		data, err := export.ToXLSX(records)
		if err != nil {
			respondError(c, err)
			return
		}

		filename := fmt.Sprintf("ads_export_%s.xlsx", time.Now().Format("20060102_150405"))
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Data(http.StatusOK, xlsxContentType, data)
	}
}

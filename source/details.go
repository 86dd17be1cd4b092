package source

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
)

// detailsPayload is the follow-up response for one creative.
type detailsPayload struct {
	Error      string               `json:"error"`
	AdCreative normalize.RawAdBlock `json:"ad_creative"`
}

// FetchDetails enriches up to limit records in place with their per-creative
// follow-up data. Records run in fixed-size concurrent batches with a courtesy
// delay between batches. A failed record is logged and skipped; the pass as a
// whole never fails. Returns the number of records actually enriched.
func (a *SearchAPIAdapter) FetchDetails(ctx context.Context, records []*models.AdRecord, limit int) int {
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	batchSize := a.cfg.DetailsBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var enriched atomic.Int64
	for start := 0; start < limit; start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + batchSize
		if end > limit {
			end = limit
		}

		var wg sync.WaitGroup
		for _, rec := range records[start:end] {
			if rec.DetailsFetched {
				continue
			}
			wg.Add(1)
			go func(rec *models.AdRecord) {
				defer wg.Done()
				if err := a.fetchOneDetail(ctx, rec); err != nil {
					slog.Warn("details fetch failed", "id", rec.ID, "error", err)
					return
				}
				enriched.Add(1)
			}(rec)
		}
		wg.Wait()

		if end < limit {
			if err := sleepCtx(ctx, a.cfg.DetailsBatchDelay); err != nil {
				break
			}
		}
	}
	return int(enriched.Load())
}

// fetchOneDetail resolves one record's follow-up link and merges the result.
func (a *SearchAPIAdapter) fetchOneDetail(ctx context.Context, rec *models.AdRecord) error {
	link := detailsURL(rec)
	if link == "" {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "record has no details link", nil)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link+"&api_key="+a.cfg.APIKey, nil)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeInternal, "build details request", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeUpstream, "details request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil || resp.StatusCode != http.StatusOK {
		return models.NewScrapeError(models.ErrCodeUpstream, "details request failed", err)
	}

	var dp detailsPayload
	if err := json.Unmarshal(body, &dp); err != nil {
		return models.NewScrapeError(models.ErrCodeUpstream, "decode details response", err)
	}
	if dp.Error != "" {
		return models.NewScrapeError(models.ErrCodeUpstream, dp.Error, nil)
	}
	if dp.AdCreative == nil {
		// Some responses carry the creative fields at the top level.
		if err := json.Unmarshal(body, &dp.AdCreative); err != nil {
			return models.NewScrapeError(models.ErrCodeUpstream, "decode details response", err)
		}
	}

	mergeDetail(rec, normalize.Normalize(dp.AdCreative, normalize.SourceSearchAPI))
	rec.DetailsFetched = true
	return nil
}

// detailsURL prefers the upstream's ready-made follow-up link preserved in the
// raw payload over the public details page link.
func detailsURL(rec *models.AdRecord) string {
	if len(rec.RawData) > 0 {
		var raw struct {
			SerpapiLink string `json:"serpapi_link"`
			DetailsLink string `json:"serpapi_details_link"`
		}
		if err := json.Unmarshal(rec.RawData, &raw); err == nil {
			if raw.DetailsLink != "" {
				return raw.DetailsLink
			}
			if raw.SerpapiLink != "" {
				return raw.SerpapiLink
			}
		}
	}
	return ""
}

// mergeDetail copies detail fields into rec, first writer wins: a field the
// listing already populated is never overwritten.
func mergeDetail(rec, detail *models.AdRecord) {
	fillStr(&rec.Headline, detail.Headline)
	fillStr(&rec.Description, detail.Description)
	fillStr(&rec.CallToAction, detail.CallToAction)
	fillStr(&rec.VisibleURL, detail.VisibleURL)
	fillStr(&rec.DisplayURL, detail.DisplayURL)
	fillStr(&rec.DestinationURL, detail.DestinationURL)
	fillStr(&rec.VideoURL, detail.VideoURL)
	if rec.Advertiser == models.UnknownAdvertiser && detail.Advertiser != models.UnknownAdvertiser {
		rec.Advertiser = detail.Advertiser
	}
	if len(rec.Images) == 0 {
		rec.Images = detail.Images
	}
	if len(rec.Regions) == 0 {
		rec.Regions = detail.Regions
	}
	if rec.Format == models.FormatUnknown {
		rec.Format = detail.Format
	}
	if rec.FirstShown == models.DateUnknown && detail.FirstShown != models.DateUnknown {
		rec.FirstShown = detail.FirstShown
		rec.DateRange = detail.FirstShown + " - " + rec.LastShown
	}
}

func fillStr(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

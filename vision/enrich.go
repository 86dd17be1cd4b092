package vision

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/adscope/models"
)

// Enricher runs records through vision extraction in small concurrent
// batches, merging the extracted text into each record.
type Enricher struct {
	client     *Client
	batchSize  int
	batchDelay time.Duration
}

func NewEnricher(client *Client) *Enricher {
	batchSize := client.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 3
	}
	return &Enricher{
		client:     client,
		batchSize:  batchSize,
		batchDelay: client.cfg.BatchDelay,
	}
}

// Enrich processes up to limit eligible records in place: records with an
// image that have not been vision-processed yet. Per-record failures are
// logged and skipped; the pass never fails as a whole.
func (e *Enricher) Enrich(ctx context.Context, records []*models.AdRecord, limit int) models.OCRStats {
	var stats models.OCRStats
	if !e.client.Configured() {
		return stats
	}

	var candidates []*models.AdRecord
	for _, rec := range records {
		if rec.VisionProcessed || rec.PrimaryImage() == "" {
			continue
		}
		candidates = append(candidates, rec)
		if limit > 0 && len(candidates) >= limit {
			break
		}
	}

	var mu sync.Mutex
	for start := 0; start < len(candidates); start += e.batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + e.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		var wg sync.WaitGroup
		for _, rec := range candidates[start:end] {
			wg.Add(1)
			go func(rec *models.AdRecord) {
				defer wg.Done()
				reply, err := e.client.ExtractAdText(ctx, rec.PrimaryImage())

				mu.Lock()
				defer mu.Unlock()
				stats.Attempted++
				if err != nil {
					stats.Failed++
					slog.Warn("vision extraction failed", "id", rec.ID, "error", err)
					return
				}
				stats.Successful++
				applyReply(rec, reply)
			}(rec)
		}
		wg.Wait()

		if end < len(candidates) {
			if err := sleepCtx(ctx, e.batchDelay); err != nil {
				break
			}
		}
	}
	return stats
}

// adhocBatchSize is the fan-out for the batch OCR endpoint. Ad-hoc requests
// carry no scrape-job pacing concerns, so they run wider than enrichment.
const adhocBatchSize = 15

// ProcessBatch runs ad-hoc image items through extraction for the batch OCR
// endpoint. Items without an image fail individually, not the batch.
func (e *Enricher) ProcessBatch(ctx context.Context, items []models.OCRBatchItem) ([]models.OCRResult, models.OCRStats) {
	results := make([]models.OCRResult, len(items))
	var stats models.OCRStats
	var mu sync.Mutex

	for start := 0; start < len(items); start += adhocBatchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + adhocBatchSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				item := items[i]

				if item.ImageURL == "" {
					mu.Lock()
					stats.Attempted++
					stats.Failed++
					mu.Unlock()
					results[i] = models.OCRResult{ID: item.ID, Error: "record has no image"}
					return
				}

				reply, err := e.client.ExtractAdText(ctx, item.ImageURL)
				mu.Lock()
				stats.Attempted++
				if err != nil {
					stats.Failed++
				} else {
					stats.Successful++
				}
				mu.Unlock()

				if err != nil {
					results[i] = models.OCRResult{ID: item.ID, Error: err.Error()}
					return
				}
				results[i] = models.OCRResult{ID: item.ID, Success: true, Data: reply}
			}(i)
		}
		wg.Wait()

		if end < len(items) {
			if err := sleepCtx(ctx, e.batchDelay); err != nil {
				break
			}
		}
	}
	return results, stats
}

// applyReply merges extracted text into the record, first writer wins, and
// marks it processed.
func applyReply(rec *models.AdRecord, reply *models.VisionReply) {
	fill(&rec.Headline, reply.Headline)
	fill(&rec.Description, reply.Description)
	fill(&rec.CallToAction, reply.CallToAction)
	fill(&rec.VisibleURL, reply.VisibleURL)
	fill(&rec.BrandName, reply.BrandName)
	fill(&rec.AllText, reply.AllText)
	if rec.Advertiser == models.UnknownAdvertiser && reply.BrandName != "" {
		rec.Advertiser = reply.BrandName
	}
	rec.VisionProcessed = true
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package scrape

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
)

// run is the fetch loop. One iteration: honor pause, check stop, fetch the
// batch at the cursor, normalize and merge, report progress, advance. The
// loop ends on source exhaustion, the page ceiling, the record ceiling, a
// stop request, or an adapter error; collected records survive all of them.
func (j *Job) run(ctx context.Context) {
	defer close(j.events)
	defer close(j.done)
	if c, ok := j.adapter.(interface{ Close() }); ok {
		defer c.Close()
	}

	cursor := ""
	page := 0
	ceiling := j.adapter.PageCeiling()

	for {
		if !j.waitWhilePaused(ctx) {
			j.finishStopped()
			return
		}
		if j.stopped.Load() {
			j.finishStopped()
			return
		}

		batch, err := j.adapter.FetchNextBatch(ctx, cursor)
		if err != nil {
			if j.stopped.Load() || errors.Is(err, context.Canceled) {
				j.finishStopped()
				return
			}
			j.fail(err)
			return
		}
		page++

		total := j.appendRecords(normalize.Filter(batch.Items, j.adapter.Kind()))
		j.emit(models.JobEvent{
			Type:        models.EventProgress,
			AdsScraped:  total,
			CurrentPage: page,
		})

		switch {
		case !batch.HasMore:
			j.complete()
			return
		case page >= ceiling:
			slog.Info("page ceiling reached", "session", j.SessionID, "pages", page)
			j.complete()
			return
		case total >= j.maxRecords:
			slog.Info("record ceiling reached", "session", j.SessionID, "total", total)
			j.complete()
			return
		}

		cursor = batch.NextCursor

		if err := sleepCtx(ctx, j.cfg.BatchDelay); err != nil {
			j.finishStopped()
			return
		}
	}
}

// waitWhilePaused polls the pause flag at the configured interval. Returns
// false when the wait ended because of a stop or context expiry.
func (j *Job) waitWhilePaused(ctx context.Context) bool {
	for j.paused.Load() {
		if j.stopped.Load() {
			return false
		}
		if err := sleepCtx(ctx, j.cfg.PausePollInterval); err != nil {
			return false
		}
	}
	return true
}

func (j *Job) complete() {
	j.setTerminal(models.JobCompleted, nil)
	recs := j.Records()
	j.emitTerminal(models.JobEvent{
		Type:  models.EventComplete,
		Ads:   recs,
		Total: len(recs),
	})
	slog.Info("scrape completed", "session", j.SessionID, "total", len(recs))
}

func (j *Job) finishStopped() {
	j.setTerminal(models.JobStopped, nil)
	recs := j.Records()
	j.emitTerminal(models.JobEvent{
		Type:  models.EventComplete,
		Ads:   recs,
		Total: len(recs),
	})
	slog.Info("scrape stopped", "session", j.SessionID, "total", len(recs))
}

func (j *Job) fail(err error) {
	var se *models.ScrapeError
	if !errors.As(err, &se) {
		se = models.NewScrapeError(models.ErrCodeInternal, "scrape failed", err)
	}
	j.setTerminal(models.JobFailed, se)
	j.emitTerminal(models.JobEvent{Type: models.EventError, Message: se.Message})
	slog.Error("scrape failed", "session", j.SessionID,
		"code", se.Code, "error", err, "partial", len(j.Records()))
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

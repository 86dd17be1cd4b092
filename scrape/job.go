// Package scrape runs scraping jobs: a job owns one source adapter, a
// resumable fetch loop, the accumulated record set, and an event stream that
// the WebSocket layer forwards to clients.
package scrape

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/source"
)

// eventBuffer sizes a job's event channel. A slow consumer loses events
// rather than stalling the fetch loop.
const eventBuffer = 64

// Job is one scraping session: started once, pausable, stoppable, and
// readable while running. All methods are safe for concurrent use.
type Job struct {
	SessionID string
	TargetURL string

	adapter    source.Adapter
	cfg        config.ScrapeConfig
	maxRecords int

	paused  atomic.Bool
	stopped atomic.Bool

	mu         sync.Mutex
	state      models.JobState
	records    []*models.AdRecord
	seen       map[string]struct{}
	failure    *models.ScrapeError
	finishedAt time.Time
	cancel     context.CancelFunc

	events chan models.JobEvent
	done   chan struct{}
}

// NewJob builds an idle job over the given adapter. maxRecords of zero or
// less falls back to the configured ceiling.
func NewJob(sessionID, targetURL string, adapter source.Adapter, cfg config.ScrapeConfig, maxRecords int) *Job {
	if maxRecords <= 0 {
		maxRecords = cfg.MaxRecords
	}
	return &Job{
		SessionID:  sessionID,
		TargetURL:  targetURL,
		adapter:    adapter,
		cfg:        cfg,
		maxRecords: maxRecords,
		state:      models.JobIdle,
		seen:       make(map[string]struct{}),
		events:     make(chan models.JobEvent, eventBuffer),
		done:       make(chan struct{}),
	}
}

// Start launches the fetch loop. A job can only be started once; any second
// Start, including on a finished job, is rejected.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != models.JobIdle {
		return models.NewScrapeError(models.ErrCodeAlreadyRun,
			"scraping already running for this session", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.state = models.JobRunning

	go j.run(runCtx)

	j.emit(models.JobEvent{Type: models.EventStatus, Message: "Scraping started"})
	return nil
}

// Pause suspends the fetch loop after its current iteration. No-op unless
// the job is running.
func (j *Job) Pause() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != models.JobRunning {
		return
	}
	j.paused.Store(true)
	j.state = models.JobPaused
	j.emit(models.JobEvent{Type: models.EventStatus, Message: "Scraping paused"})
}

// Resume continues a paused job from the cursor it paused at.
func (j *Job) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != models.JobPaused {
		return
	}
	j.paused.Store(false)
	j.state = models.JobRunning
	j.emit(models.JobEvent{Type: models.EventStatus, Message: "Scraping resumed"})
}

// Stop ends the job within one loop iteration, keeping everything collected
// so far. Safe to call in any state.
func (j *Job) Stop() {
	j.stopped.Store(true)
	j.paused.Store(false)
	j.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	j.mu.Unlock()
}

// State returns the current lifecycle state.
func (j *Job) State() models.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Records returns a snapshot of the accumulated valid records.
func (j *Job) Records() []*models.AdRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.AdRecord, len(j.records))
	copy(out, j.records)
	return out
}

// Failure returns the error that failed the job, or nil.
func (j *Job) Failure() *models.ScrapeError {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failure
}

// FinishedAt returns when the job reached a terminal state (zero if it has
// not yet).
func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// Events is the job's notification stream. It is closed when the job
// terminates.
func (j *Job) Events() <-chan models.JobEvent { return j.events }

// Done is closed when the fetch loop exits.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job terminates or ctx expires.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// appendRecords merges a batch into the record set, deduplicating by record
// id, and returns the new total.
func (j *Job) appendRecords(recs []*models.AdRecord) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rec := range recs {
		if _, dup := j.seen[rec.ID]; dup {
			continue
		}
		j.seen[rec.ID] = struct{}{}
		j.records = append(j.records, rec)
	}
	return len(j.records)
}

func (j *Job) setTerminal(state models.JobState, failure *models.ScrapeError) {
	j.mu.Lock()
	j.state = state
	j.failure = failure
	j.finishedAt = time.Now()
	j.mu.Unlock()
}

// emit publishes an event without ever blocking the fetch loop.
func (j *Job) emit(ev models.JobEvent) {
	select {
	case j.events <- ev:
	default:
		slog.Debug("job event dropped, consumer too slow",
			"session", j.SessionID, "type", ev.Type)
	}
}

// emitTerminal delivers an event that must not be lost. When the buffer is
// full it evicts the oldest buffered event to make room; progress events are
// expendable, the completion or error event is not.
func (j *Job) emitTerminal(ev models.JobEvent) {
	for {
		select {
		case j.events <- ev:
			return
		default:
		}
		select {
		case <-j.events:
		default:
		}
	}
}

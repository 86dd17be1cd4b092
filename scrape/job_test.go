package scrape

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
	"github.com/use-agent/adscope/source"
)

// fakeAdapter serves scripted batches and records the cursors it was asked
// for.
type fakeAdapter struct {
	batches []source.Batch
	failAt  int // 1-based batch index to fail at; 0 = never
	calls   atomic.Int32
	cursors []string
	closed  atomic.Bool

	// delay slows each fetch so tests can interleave pause/stop.
	delay time.Duration
}

func (f *fakeAdapter) Kind() normalize.SourceKind { return normalize.SourceBrowser }
func (f *fakeAdapter) PageCeiling() int           { return 100 }
func (f *fakeAdapter) Close()                     { f.closed.Store(true) }

func (f *fakeAdapter) FetchNextBatch(ctx context.Context, cursor string) (*source.Batch, error) {
	n := int(f.calls.Add(1))
	f.cursors = append(f.cursors, cursor)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAt != 0 && n == f.failAt {
		return nil, models.NewScrapeError(models.ErrCodeUpstream, "upstream exploded", nil)
	}
	if n > len(f.batches) {
		return &source.Batch{HasMore: false}, nil
	}
	b := f.batches[n-1]
	return &b, nil
}

func rawAd(id string) normalize.RawAdBlock {
	return normalize.RawAdBlock{"id": id, "advertiser": "Acme " + id}
}

func testScrapeCfg() config.ScrapeConfig {
	return config.ScrapeConfig{
		BatchDelay:        time.Millisecond,
		PausePollInterval: time.Millisecond,
		MaxRecords:        10000,
		JobTTL:            time.Hour,
	}
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

func TestJob_RunsToCompletion(t *testing.T) {
	fa := &fakeAdapter{batches: []source.Batch{
		{Items: []normalize.RawAdBlock{rawAd("a"), rawAd("b")}, NextCursor: "c1", HasMore: true},
		{Items: []normalize.RawAdBlock{rawAd("c"), {}}, HasMore: false}, // one invalid item
	}}

	job := NewJob("s1", "https://adstransparency.google.com/?text=x", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	if got := job.State(); got != models.JobCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	if recs := job.Records(); len(recs) != 3 {
		t.Errorf("records = %d, want 3 (invalid item dropped)", len(recs))
	}
	if len(fa.cursors) != 2 || fa.cursors[0] != "" || fa.cursors[1] != "c1" {
		t.Errorf("cursors = %v", fa.cursors)
	}
	if !fa.closed.Load() {
		t.Error("adapter not closed after run")
	}
}

func TestJob_CompletionEventCarriesRecords(t *testing.T) {
	fa := &fakeAdapter{batches: []source.Batch{
		{Items: []normalize.RawAdBlock{rawAd("a")}, HasMore: false},
	}}
	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var complete *models.JobEvent
	for ev := range job.Events() {
		if ev.Type == models.EventComplete {
			e := ev
			complete = &e
		}
	}
	if complete == nil {
		t.Fatal("no scraping-complete event seen")
	}
	if complete.Total != 1 || len(complete.Ads) != 1 {
		t.Errorf("completion event = %+v", complete)
	}
}

func TestJob_CompletionEventSurvivesSlowConsumer(t *testing.T) {
	// Far more batches than the event buffer holds, and no consumer until the
	// job is done: progress events overflow, the completion event must not.
	var batches []source.Batch
	for i := 0; i < 200; i++ {
		batches = append(batches, source.Batch{
			Items:      []normalize.RawAdBlock{rawAd("x" + strconv.Itoa(i))},
			NextCursor: strconv.Itoa(i + 1),
			HasMore:    true,
		})
	}
	fa := &fakeAdapter{batches: batches}

	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	sawComplete := false
	for ev := range job.Events() {
		if ev.Type == models.EventComplete {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("scraping-complete event lost when the buffer filled up")
	}
}

func TestJob_AdapterErrorKeepsPartials(t *testing.T) {
	fa := &fakeAdapter{
		batches: []source.Batch{
			{Items: []normalize.RawAdBlock{rawAd("a"), rawAd("b")}, NextCursor: "c1", HasMore: true},
		},
		failAt: 2,
	}
	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	if got := job.State(); got != models.JobFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	failure := job.Failure()
	if failure == nil || failure.Code != models.ErrCodeUpstream {
		t.Fatalf("failure = %v", failure)
	}
	if recs := job.Records(); len(recs) != 2 {
		t.Errorf("partial records = %d, want 2", len(recs))
	}
}

func TestJob_DeduplicatesAcrossBatches(t *testing.T) {
	fa := &fakeAdapter{batches: []source.Batch{
		{Items: []normalize.RawAdBlock{rawAd("a"), rawAd("b")}, NextCursor: "1", HasMore: true},
		{Items: []normalize.RawAdBlock{rawAd("b"), rawAd("c")}, HasMore: false},
	}}
	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	if recs := job.Records(); len(recs) != 3 {
		t.Errorf("records = %d, want 3 unique", len(recs))
	}
}

func TestJob_RecordCeiling(t *testing.T) {
	var batches []source.Batch
	for i := 0; i < 10; i++ {
		batches = append(batches, source.Batch{
			Items:      []normalize.RawAdBlock{rawAd("x" + strconv.Itoa(i))},
			NextCursor: strconv.Itoa(i + 1),
			HasMore:    true,
		})
	}
	fa := &fakeAdapter{batches: batches}

	job := NewJob("s1", "u", fa, testScrapeCfg(), 3)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	if got := job.State(); got != models.JobCompleted {
		t.Fatalf("state = %s, want completed at record ceiling", got)
	}
	if recs := job.Records(); len(recs) != 3 {
		t.Errorf("records = %d, want 3", len(recs))
	}
}

func TestJob_DoubleStartRejected(t *testing.T) {
	fa := &fakeAdapter{delay: 50 * time.Millisecond, batches: []source.Batch{
		{Items: []normalize.RawAdBlock{rawAd("a")}, HasMore: false},
	}}
	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := job.Start(context.Background())
	var se *models.ScrapeError
	if !errors.As(err, &se) || se.Code != models.ErrCodeAlreadyRun {
		t.Fatalf("second start err = %v, want ALREADY_RUNNING", err)
	}
	waitDone(t, job)
}

func TestJob_StopEndsWithinOneIteration(t *testing.T) {
	var batches []source.Batch
	for i := 0; i < 1000; i++ {
		batches = append(batches, source.Batch{
			Items:      []normalize.RawAdBlock{rawAd("x" + strconv.Itoa(i))},
			NextCursor: strconv.Itoa(i + 1),
			HasMore:    true,
		})
	}
	fa := &fakeAdapter{batches: batches, delay: 5 * time.Millisecond}

	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	job.Stop()
	waitDone(t, job)

	if got := job.State(); got != models.JobStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
	if recs := job.Records(); len(recs) == 0 || len(recs) == 1000 {
		t.Errorf("records = %d, want a partial set", len(recs))
	}
}

func TestJob_PauseAndResume(t *testing.T) {
	fa := &fakeAdapter{batches: []source.Batch{
		{Items: []normalize.RawAdBlock{rawAd("a")}, NextCursor: "c1", HasMore: true},
		{Items: []normalize.RawAdBlock{rawAd("b")}, HasMore: false},
	}, delay: 10 * time.Millisecond}

	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	job.Pause()
	// Give the loop time to park in the pause poll.
	time.Sleep(50 * time.Millisecond)
	if got := job.State(); got != models.JobPaused {
		t.Fatalf("state = %s, want paused", got)
	}

	job.Resume()
	waitDone(t, job)

	if got := job.State(); got != models.JobCompleted {
		t.Fatalf("state = %s, want completed after resume", got)
	}
	// The cursor sequence must be unaffected by the pause.
	if len(fa.cursors) != 2 || fa.cursors[1] != "c1" {
		t.Errorf("cursors = %v, want resume from the paused cursor", fa.cursors)
	}
}

func TestRegistry_PutRejectsActiveDuplicate(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	fa := &fakeAdapter{delay: 50 * time.Millisecond, batches: []source.Batch{
		{Items: []normalize.RawAdBlock{rawAd("a")}, HasMore: false},
	}}
	j1 := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	if _, ok := r.Put(j1); !ok {
		t.Fatal("first Put rejected")
	}
	if err := j1.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	j2 := NewJob("s1", "u", &fakeAdapter{}, testScrapeCfg(), 0)
	if prev, ok := r.Put(j2); ok || prev != j1 {
		t.Error("Put replaced an active job")
	}

	waitDone(t, j1)
	if _, ok := r.Put(j2); !ok {
		t.Error("Put rejected replacement of a finished job")
	}
}

func TestRegistry_SweepDropsExpired(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	fa := &fakeAdapter{batches: []source.Batch{
		{Items: []normalize.RawAdBlock{rawAd("a")}, HasMore: false},
	}}
	job := NewJob("s1", "u", fa, testScrapeCfg(), 0)
	r.Put(job)
	if err := job.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, job)

	r.sweep(time.Now())
	if _, ok := r.Get("s1"); !ok {
		t.Error("fresh finished job swept too early")
	}

	r.sweep(time.Now().Add(2 * time.Minute))
	if _, ok := r.Get("s1"); ok {
		t.Error("expired job not swept")
	}
}

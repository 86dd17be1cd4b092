package scrape

import (
	"log/slog"
	"sync"
	"time"
)

// Registry tracks live and recently finished jobs by session id. Finished
// jobs linger for the configured TTL so exports and late polls still find
// their records.
type Registry struct {
	jobs sync.Map // session id -> *Job
	ttl  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// sweepInterval is how often the registry scans for expired jobs.
const sweepInterval = 5 * time.Minute

func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{ttl: ttl, stop: make(chan struct{})}
	go r.sweeper()
	return r
}

// Put registers a job under its session id, replacing a finished predecessor.
// Returns the existing job when one is still active under the same session.
func (r *Registry) Put(job *Job) (*Job, bool) {
	if existing, ok := r.jobs.Load(job.SessionID); ok {
		prev := existing.(*Job)
		if !prev.State().Terminal() {
			return prev, false
		}
	}
	r.jobs.Store(job.SessionID, job)
	return job, true
}

// Get looks up a job by session id.
func (r *Registry) Get(sessionID string) (*Job, bool) {
	v, ok := r.jobs.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// Remove stops a job if it is still active and drops it from the registry.
func (r *Registry) Remove(sessionID string) {
	if v, ok := r.jobs.LoadAndDelete(sessionID); ok {
		job := v.(*Job)
		if !job.State().Terminal() {
			job.Stop()
		}
	}
}

// Close stops the sweeper goroutine.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweeper() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep(time.Now())
		case <-r.stop:
			return
		}
	}
}

// sweep drops jobs that finished more than ttl ago.
func (r *Registry) sweep(now time.Time) {
	var expired []string
	r.jobs.Range(func(key, value any) bool {
		job := value.(*Job)
		if job.State().Terminal() && !job.FinishedAt().IsZero() &&
			now.Sub(job.FinishedAt()) > r.ttl {
			expired = append(expired, key.(string))
		}
		return true
	})
	for _, id := range expired {
		r.jobs.Delete(id)
		slog.Debug("expired finished job", "session", id)
	}
}

// Active counts jobs not yet in a terminal state.
func (r *Registry) Active() int {
	n := 0
	r.jobs.Range(func(_, value any) bool {
		if !value.(*Job).State().Terminal() {
			n++
		}
		return true
	})
	return n
}

package models

// JobState is the lifecycle state of a scraping job.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobPaused    JobState = "paused"
	JobStopped   JobState = "stopped"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStopped, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Event types published on a job's event channel. The names mirror the
// WebSocket message types seen by clients.
const (
	EventStatus   = "status-update"
	EventProgress = "progress-update"
	EventComplete = "scraping-complete"
	EventError    = "error"
)

// JobEvent is one notification from a running job.
type JobEvent struct {
	Type string `json:"type"`

	// Message is set for status-update and error events.
	Message string `json:"message,omitempty"`

	// Progress fields, set for progress-update events.
	AdsScraped  int `json:"adsScraped,omitempty"`
	CurrentPage int `json:"currentPage,omitempty"`

	// Completion payload, set for scraping-complete events.
	Ads   []*AdRecord `json:"ads,omitempty"`
	Total int         `json:"total,omitempty"`
}

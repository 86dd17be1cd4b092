package models

// ScrapeResponse is the response for POST /api/v1/scrape.
type ScrapeResponse struct {
	// Success indicates whether the scrape completed without errors.
	Success bool `json:"success"`

	// Total is the number of valid records accumulated.
	Total int `json:"total"`

	// URL echoes the requested transparency page.
	URL string `json:"url,omitempty"`

	// FetchedDetails and DetailsLimit report the details pass configuration.
	FetchedDetails bool `json:"fetched_details"`
	DetailsLimit   int  `json:"details_limit,omitempty"`

	// VisionEnabled and VisionLimit report the enrichment pass configuration.
	VisionEnabled bool `json:"vision_enabled"`
	VisionLimit   int  `json:"vision_limit,omitempty"`

	// Ads is the accumulated record set.
	Ads []*AdRecord `json:"ads,omitempty"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// Run statuses reported by the async crawl interface. RUNNING and READY are
// in-flight; SUCCEEDED, TIMED-OUT, FAILED and ABORTED are terminal.
const (
	RunStatusReady     = "READY"
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusTimedOut  = "TIMED-OUT"
	RunStatusFailed    = "FAILED"
	RunStatusAborted   = "ABORTED"
)

// RunResponse is the immediate 202 response for POST /api/v1/runs.
type RunResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// RunStats summarizes upstream crawl progress.
type RunStats struct {
	ItemsScraped int `json:"items_scraped"`
	ItemCount    int `json:"item_count"`
}

// RunStatusResponse is the response for GET /api/v1/runs/:id.
type RunStatusResponse struct {
	Success bool     `json:"success"`
	Status  string   `json:"status"`
	RunID   string   `json:"run_id"`
	Stats   RunStats `json:"stats"`

	// Total is the full dataset size, known once the upstream reports it.
	Total int `json:"total,omitempty"`

	// Ads holds final results (terminal states) or a partial window
	// (RUNNING with partial=true and offset/limit).
	Ads []*AdRecord `json:"ads,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// OCRBatchResponse is the response for POST /api/v1/ocr/batch.
type OCRBatchResponse struct {
	Success   bool        `json:"success"`
	Processed int         `json:"processed"`
	Stats     OCRStats    `json:"stats"`
	Results   []OCRResult `json:"results"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// OCRStats counts vision-call outcomes across a batch.
type OCRStats struct {
	Attempted  int `json:"attempted"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// OCRResult is the per-ad outcome in an OCR batch.
type OCRResult struct {
	ID      string       `json:"id"`
	Success bool         `json:"success"`
	Data    *VisionReply `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// VisionReply is the structured field extraction returned by the vision model
// for one ad image.
type VisionReply struct {
	Headline     string `json:"headline"`
	Description  string `json:"description"`
	CallToAction string `json:"callToAction"`
	VisibleURL   string `json:"visibleUrl"`
	BrandName    string `json:"brandName"`
	AllText      string `json:"allText"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser page pool.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	ActivePages int `json:"active_pages"`
}

package models

// ScrapeRequest is the payload for POST /api/v1/scrape (synchronous batch mode).
type ScrapeRequest struct {
	// URL is the ad-transparency page to scrape. Required; must belong to the
	// transparency portal domain.
	URL string `json:"url" binding:"required,url"`

	// FetchDetails controls whether per-ad details are fetched from the
	// search API after the listing pass. Default: true.
	FetchDetails *bool `json:"fetch_details,omitempty"`

	// DetailsLimit caps how many ads get a details fetch.
	// Default: 100. Max: 500.
	DetailsLimit int `json:"details_limit,omitempty" binding:"omitempty,min=1,max=500"`

	// EnableOCR controls vision text extraction for image ads. Effective only
	// when a vision API key is configured. Default: true.
	EnableOCR *bool `json:"enable_ocr,omitempty"`

	// OCRLimit caps how many ads are sent through vision extraction.
	// Default: 50. Max: 200.
	OCRLimit int `json:"ocr_limit,omitempty" binding:"omitempty,min=1,max=200"`

	// MaxResults caps the accumulated record count across pages.
	// Default: 1000.
	MaxResults int `json:"max_results,omitempty" binding:"omitempty,min=1"`

	// MaxAgeMs enables the response cache: a cached response younger than
	// this many milliseconds is returned without hitting the upstream.
	MaxAgeMs int `json:"max_age_ms,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.FetchDetails == nil {
		t := true
		r.FetchDetails = &t
	}
	if r.DetailsLimit == 0 {
		r.DetailsLimit = 100
	}
	if r.EnableOCR == nil {
		t := true
		r.EnableOCR = &t
	}
	if r.OCRLimit == 0 {
		r.OCRLimit = 50
	}
	if r.MaxResults == 0 {
		r.MaxResults = 1000
	}
}

// RunRequest is the payload for POST /api/v1/runs (async crawl mode).
type RunRequest struct {
	// URL is the ad-transparency page to crawl. Required.
	URL string `json:"url" binding:"required,url"`

	// MaxResults caps the number of items the crawl collects.
	// Default: 10000.
	MaxResults int `json:"max_results,omitempty" binding:"omitempty,min=1"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// OCRBatchRequest is the payload for POST /api/v1/ocr/batch.
type OCRBatchRequest struct {
	// Ads lists the records to process. Only id and imageUrl are consulted.
	Ads []OCRBatchItem `json:"ads" binding:"required"`
}

// OCRBatchItem identifies one ad image to run through vision extraction.
type OCRBatchItem struct {
	ID       string `json:"id"`
	ImageURL string `json:"imageUrl"`
}

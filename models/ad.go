package models

import "encoding/json"

// AdFormat is the canonical creative format classification.
type AdFormat string

const (
	FormatText    AdFormat = "Text"
	FormatDisplay AdFormat = "Display"
	FormatVideo   AdFormat = "Video"
	FormatUnknown AdFormat = "Unknown"
)

// AdRecord is the canonical normalized representation of one scraped
// advertisement. Identity fields are immutable once normalized; text fields
// may be filled in later by the details fetch or vision enrichment, but an
// already-populated field is never overwritten.
type AdRecord struct {
	// Identifiers
	ID           string `json:"id"`
	AdvertiserID string `json:"advertiserId,omitempty"`
	CreativeID   string `json:"creativeId,omitempty"`

	// Advertiser info. "Unknown Advertiser" is the sentinel for absent names.
	Advertiser string `json:"advertiser"`

	// Ad content
	Headline     string `json:"headline,omitempty"`
	Description  string `json:"description,omitempty"`
	CallToAction string `json:"callToAction,omitempty"`
	BrandName    string `json:"brandName,omitempty"`
	AllText      string `json:"allText,omitempty"`

	// URLs
	VisibleURL     string `json:"visibleUrl,omitempty"`
	DisplayURL     string `json:"displayUrl,omitempty"`
	DestinationURL string `json:"destinationUrl,omitempty"`
	DetailsLink    string `json:"detailsLink,omitempty"`

	// Media. Images[0], when present, is the primary image.
	Images   []string `json:"images"`
	VideoURL string   `json:"videoUrl,omitempty"`

	// Metadata
	Format     AdFormat `json:"format"`
	FirstShown string   `json:"firstShown"` // "Unknown" when absent
	LastShown  string   `json:"lastShown"`  // "Present" when absent
	DateRange  string   `json:"dateRange"`

	// Targeting
	Regions []string `json:"regions,omitempty"`

	// Enrichment markers. These flag completed enrichment passes and are not
	// part of record identity.
	DetailsFetched  bool `json:"detailsFetched,omitempty"`
	VisionProcessed bool `json:"visionProcessed,omitempty"`

	// Source names the adapter that produced the record.
	Source string `json:"source"`

	// RawData is the originating upstream payload, preserved verbatim. The
	// details fetch reads follow-up links out of it.
	RawData json.RawMessage `json:"rawData,omitempty"`
}

// PrimaryImage returns the first image URL, or "" when the record has none.
func (a *AdRecord) PrimaryImage() string {
	if len(a.Images) == 0 {
		return ""
	}
	return a.Images[0]
}

// IsValid reports whether the record carries at least one piece of real
// content: a non-sentinel advertiser name, a details link, a destination URL,
// an image, or text. Records failing this predicate are dropped at ingestion.
func (a *AdRecord) IsValid() bool {
	if a.Advertiser != "" && a.Advertiser != UnknownAdvertiser {
		return true
	}
	return a.DetailsLink != "" ||
		a.DestinationURL != "" ||
		len(a.Images) > 0 ||
		a.Headline != "" ||
		a.Description != "" ||
		a.AllText != ""
}

// Sentinel values for absent fields.
const (
	UnknownAdvertiser = "Unknown Advertiser"
	DateUnknown       = "Unknown"
	DatePresent       = "Present"
)

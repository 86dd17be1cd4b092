// Package normalize folds heterogeneous upstream ad payloads into the
// canonical AdRecord schema. Everything here is pure: no I/O, no failure mode
// beyond producing a record with empty fields.
package normalize

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/use-agent/adscope/models"
)

// SourceKind identifies which adapter produced a raw item, selecting the
// field-name table used to map it.
type SourceKind string

const (
	SourceSearchAPI   SourceKind = "search-api"
	SourceCrawlAPI    SourceKind = "crawl-api"
	SourceBrowser     SourceKind = "browser"
	SourceTextPattern SourceKind = "text-pattern"
)

// RawAdBlock is one partially-structured upstream item: a decoded API object,
// an extracted DOM block, or a heuristically matched text block.
type RawAdBlock map[string]any

// fieldTable maps each canonical field to the upstream keys that may carry
// it, in preference order.
type fieldTable struct {
	id           []string
	advertiserID []string
	creativeID   []string
	advertiser   []string
	headline     []string
	description  []string
	callToAction []string
	visibleURL   []string
	displayURL   []string
	destination  []string
	detailsLink  []string
	images       []string
	videoURL     []string
	format       []string
	firstShown   []string
	lastShown    []string
	dateRange    []string
	regions      []string
}

var fieldTables = map[SourceKind]fieldTable{
	SourceSearchAPI: {
		id:           []string{"ad_creative_id"},
		advertiserID: []string{"advertiser_id"},
		creativeID:   []string{"ad_creative_id"},
		advertiser:   []string{"advertiser"},
		headline:     []string{"headline", "long_headline", "title"},
		description:  []string{"snippet", "description", "text"},
		callToAction: []string{"call_to_action"},
		visibleURL:   []string{"visible_link"},
		displayURL:   []string{"display_url", "visible_link"},
		destination:  []string{"destination_url", "landing_page", "link"},
		detailsLink:  []string{"details_link"},
		images:       []string{"image", "image_url"},
		videoURL:     []string{"video_url", "video_link", "raw_video_link"},
		format:       []string{"format"},
		firstShown:   []string{"first_shown"},
		lastShown:    []string{"last_shown"},
		regions:      []string{"regions"},
	},
	SourceCrawlAPI: {
		id:           []string{"creativeId", "id"},
		advertiserID: []string{"advertiserId"},
		creativeID:   []string{"creativeId"},
		advertiser:   []string{"advertiserName", "advertiser"},
		headline:     []string{"title", "headline"},
		description:  []string{"description"},
		destination:  []string{"url"},
		detailsLink:  []string{"adUrl", "adLink"},
		images:       []string{"archiveImageUrl", "images"},
		format:       []string{"format"},
		firstShown:   []string{"firstShown"},
		lastShown:    []string{"lastShown"},
		dateRange:    []string{"dateRange"},
		regions:      []string{"creativeRegions"},
	},
	SourceBrowser: {
		id:          []string{"id"},
		advertiser:  []string{"advertiser"},
		headline:    []string{"title", "headline"},
		description: []string{"description"},
		destination: []string{"url"},
		images:      []string{"images"},
		format:      []string{"format"},
		dateRange:   []string{"dateRange"},
	},
	SourceTextPattern: {
		id:          []string{"id"},
		advertiser:  []string{"advertiser"},
		headline:    []string{"title", "headline"},
		description: []string{"description"},
		destination: []string{"url"},
		images:      []string{"images"},
		format:      []string{"format"},
		dateRange:   []string{"dateRange"},
	},
}

// Normalize converts one raw upstream item into the canonical AdRecord.
// Absent fields come out as empty strings or sentinels; it never fails.
func Normalize(raw RawAdBlock, kind SourceKind) *models.AdRecord {
	table, ok := fieldTables[kind]
	if !ok {
		table = fieldTables[SourceTextPattern]
	}

	rec := &models.AdRecord{
		AdvertiserID:   str(raw, table.advertiserID),
		CreativeID:     str(raw, table.creativeID),
		Headline:       str(raw, table.headline),
		Description:    str(raw, table.description),
		CallToAction:   str(raw, table.callToAction),
		VisibleURL:     str(raw, table.visibleURL),
		DisplayURL:     str(raw, table.displayURL),
		DestinationURL: str(raw, table.destination),
		DetailsLink:    str(raw, table.detailsLink),
		Images:         strSlice(raw, table.images),
		VideoURL:       str(raw, table.videoURL),
		Format:         MapFormat(str(raw, table.format)),
		Regions:        strSlice(raw, table.regions),
		Source:         string(kind),
	}

	rec.Advertiser = str(raw, table.advertiser)
	if rec.Advertiser == "" {
		rec.Advertiser = models.UnknownAdvertiser
	}

	rec.FirstShown = formatShownDate(raw, table.firstShown, models.DateUnknown)
	rec.LastShown = formatShownDate(raw, table.lastShown, models.DatePresent)
	if dr := str(raw, table.dateRange); dr != "" {
		rec.DateRange = dr
	} else {
		rec.DateRange = rec.FirstShown + " - " + rec.LastShown
	}

	rec.ID = str(raw, table.id)
	if rec.ID == "" {
		rec.ID = deriveID(rec, kind)
	}

	if data, err := json.Marshal(raw); err == nil {
		rec.RawData = data
	}

	return rec
}

// Filter normalizes a whole batch and drops records failing the validity
// predicate. Invalid records are dropped silently, not reported as errors.
func Filter(items []RawAdBlock, kind SourceKind) []*models.AdRecord {
	out := make([]*models.AdRecord, 0, len(items))
	for _, raw := range items {
		if rec := Normalize(raw, kind); rec.IsValid() {
			out = append(out, rec)
		}
	}
	return out
}

// formatMap is the fixed, case-insensitive upstream → canonical format table.
var formatMap = map[string]models.AdFormat{
	"text":  models.FormatText,
	"image": models.FormatDisplay,
	"video": models.FormatVideo,
}

// MapFormat maps an upstream format value to the canonical enum. Unmapped
// values fall back to Unknown, never empty. Already-canonical values map to
// themselves so records can be re-normalized safely.
func MapFormat(v string) models.AdFormat {
	if f, ok := formatMap[strings.ToLower(v)]; ok {
		return f
	}
	switch models.AdFormat(v) {
	case models.FormatText, models.FormatDisplay, models.FormatVideo:
		return models.AdFormat(v)
	}
	return models.FormatUnknown
}

// deriveID builds a stable content-derived identifier so that re-fetches and
// browser re-snapshots deduplicate. Only a record with no identifying content
// at all gets a random id.
func deriveID(rec *models.AdRecord, kind SourceKind) string {
	var parts []string
	if rec.Advertiser != models.UnknownAdvertiser {
		parts = append(parts, rec.Advertiser)
	}
	for _, p := range []string{rec.CreativeID, rec.DestinationURL, rec.DetailsLink, rec.Headline, rec.PrimaryImage()} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s_%d_%s", kind, time.Now().UnixNano(), randomHex(4))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "ad_" + hex.EncodeToString(sum[:8])
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// formatShownDate reads one of the candidate keys and renders it as a display
// date. Upstream values are epoch seconds (search API), epoch millis or
// RFC3339 strings (crawl API), or already-formatted strings.
func formatShownDate(raw RawAdBlock, keys []string, sentinel string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return formatEpoch(t)
		case int64:
			return formatEpoch(float64(t))
		case int:
			return formatEpoch(float64(t))
		case string:
			if t == "" {
				continue
			}
			if parsed, err := parseDateString(t); err == nil {
				return parsed.Format(displayDateLayout)
			}
			return t
		}
	}
	return sentinel
}

// displayDateLayout matches the en-US short date rendering the rest of the
// pipeline and the export sheet expect.
const displayDateLayout = "1/2/2006"

func formatEpoch(v float64) string {
	// Heuristic: values past the year 2200 in seconds are epoch millis.
	sec := int64(v)
	if sec > 7258118400 {
		sec /= 1000
	}
	return time.Unix(sec, 0).UTC().Format(displayDateLayout)
}

func parseDateString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// str returns the first non-empty string among the candidate keys.
func str(raw RawAdBlock, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// strSlice collects string values from the candidate keys. A key may hold a
// single string or a list; lists of objects contribute their "link" or
// "region" members (crawl API variations and region stats).
func strSlice(raw RawAdBlock, keys []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			add(v)
		case []string:
			for _, s := range v {
				add(s)
			}
		case []any:
			for _, item := range v {
				switch t := item.(type) {
				case string:
					add(t)
				case map[string]any:
					if s, ok := t["link"].(string); ok {
						add(s)
					} else if s, ok := t["region"].(string); ok {
						add(s)
					}
				}
			}
		}
	}
	return out
}

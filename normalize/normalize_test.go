package normalize

import (
	"strings"
	"testing"

	"github.com/use-agent/adscope/models"
)

func TestMapFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want models.AdFormat
	}{
		{"text lowercase", "text", models.FormatText},
		{"text mixed case", "TeXt", models.FormatText},
		{"image to display", "image", models.FormatDisplay},
		{"image uppercase", "IMAGE", models.FormatDisplay},
		{"video", "video", models.FormatVideo},
		{"canonical passthrough", "Display", models.FormatDisplay},
		{"missing", "", models.FormatUnknown},
		{"unmapped", "carousel", models.FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapFormat(tt.in); got != tt.want {
				t.Errorf("MapFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_SearchAPIFields(t *testing.T) {
	raw := RawAdBlock{
		"ad_creative_id": "CR123",
		"advertiser_id":  "AR456",
		"advertiser":     "Acme Corp",
		"headline":       "Buy widgets",
		"snippet":        "Best widgets in town",
		"call_to_action": "Shop Now",
		"visible_link":   "acme.example",
		"details_link":   "https://adstransparency.google.com/advertiser/AR456/creative/CR123",
		"image":          "https://cdn.example/ad.png",
		"format":         "image",
		"first_shown":    float64(1700000000),
		"regions":        []any{"US", "CA"},
	}

	rec := Normalize(raw, SourceSearchAPI)

	if rec.ID != "CR123" {
		t.Errorf("ID = %q, want upstream creative id", rec.ID)
	}
	if rec.Advertiser != "Acme Corp" {
		t.Errorf("Advertiser = %q", rec.Advertiser)
	}
	if rec.Format != models.FormatDisplay {
		t.Errorf("Format = %q, want Display", rec.Format)
	}
	if rec.PrimaryImage() != "https://cdn.example/ad.png" {
		t.Errorf("PrimaryImage = %q", rec.PrimaryImage())
	}
	if rec.FirstShown != "11/14/2023" {
		t.Errorf("FirstShown = %q, want 11/14/2023", rec.FirstShown)
	}
	if rec.LastShown != models.DatePresent {
		t.Errorf("LastShown = %q, want sentinel", rec.LastShown)
	}
	if len(rec.Regions) != 2 {
		t.Errorf("Regions = %v", rec.Regions)
	}
	if rec.Source != string(SourceSearchAPI) {
		t.Errorf("Source = %q", rec.Source)
	}
	if len(rec.RawData) == 0 {
		t.Error("RawData not preserved")
	}
}

func TestNormalize_Sentinels(t *testing.T) {
	rec := Normalize(RawAdBlock{"headline": "Something"}, SourceBrowser)

	if rec.Advertiser != models.UnknownAdvertiser {
		t.Errorf("Advertiser = %q, want sentinel", rec.Advertiser)
	}
	if rec.FirstShown != models.DateUnknown {
		t.Errorf("FirstShown = %q, want sentinel", rec.FirstShown)
	}
	if rec.LastShown != models.DatePresent {
		t.Errorf("LastShown = %q, want sentinel", rec.LastShown)
	}
	if rec.DateRange != models.DateUnknown+" - "+models.DatePresent {
		t.Errorf("DateRange = %q", rec.DateRange)
	}
}

func TestNormalize_EpochMillis(t *testing.T) {
	rec := Normalize(RawAdBlock{"firstShown": float64(1700000000000)}, SourceCrawlAPI)
	if rec.FirstShown != "11/14/2023" {
		t.Errorf("FirstShown = %q, want epoch millis collapsed to 11/14/2023", rec.FirstShown)
	}
}

func TestNormalize_ContentDerivedIDStable(t *testing.T) {
	raw := RawAdBlock{
		"advertiser": "Acme Corp",
		"title":      "Buy widgets",
		"url":        "https://acme.example",
	}

	a := Normalize(raw, SourceBrowser)
	b := Normalize(raw, SourceBrowser)

	if a.ID == "" || a.ID != b.ID {
		t.Errorf("content-derived ids differ across runs: %q vs %q", a.ID, b.ID)
	}
	if !strings.HasPrefix(a.ID, "ad_") {
		t.Errorf("derived id %q missing ad_ prefix", a.ID)
	}
}

func TestNormalize_ContentlessGetsRandomID(t *testing.T) {
	a := Normalize(RawAdBlock{}, SourceTextPattern)
	b := Normalize(RawAdBlock{}, SourceTextPattern)
	if a.ID == "" || b.ID == "" {
		t.Fatal("contentless records must still get an id")
	}
	if a.ID == b.ID {
		t.Errorf("contentless records got the same id: %q", a.ID)
	}
}

func TestFilter_DropsInvalid(t *testing.T) {
	items := []RawAdBlock{
		{"advertiser": "Acme Corp"},            // valid: named advertiser
		{"title": "Headline only"},             // valid: headline
		{},                                     // invalid: no content
		{"format": "video"},                    // invalid: format alone is not content
		{"url": "https://dest.example/offer"},  // valid: destination URL
	}

	out := Filter(items, SourceBrowser)
	if len(out) != 3 {
		t.Fatalf("Filter kept %d records, want 3", len(out))
	}
	for _, rec := range out {
		if !rec.IsValid() {
			t.Errorf("filtered set contains invalid record %q", rec.ID)
		}
	}
}

func TestNormalize_CrawlRegionsFromObjects(t *testing.T) {
	raw := RawAdBlock{
		"creativeId":      "CR9",
		"advertiserName":  "Acme Corp",
		"creativeRegions": []any{map[string]any{"region": "US"}, map[string]any{"region": "DE"}},
	}
	rec := Normalize(raw, SourceCrawlAPI)
	if len(rec.Regions) != 2 || rec.Regions[0] != "US" || rec.Regions[1] != "DE" {
		t.Errorf("Regions = %v, want [US DE]", rec.Regions)
	}
}

// Package source retrieves raw ad data from the upstream systems: the paid
// search API, the managed crawl API, a headless browser session, and a
// pattern-based fallback over already-fetched HTML. All variants share the
// single resumable-batch contract consumed by the fetch orchestrator.
package source

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
)

// Batch is one page of raw items from an upstream, plus the continuation
// state needed to fetch the next one.
type Batch struct {
	Items []normalize.RawAdBlock

	// NextCursor is the opaque continuation token for the following batch.
	// Its shape is owned by the adapter that produced it.
	NextCursor string

	// HasMore is false once the upstream is exhausted.
	HasMore bool
}

// Adapter is the capability contract every source variant implements.
type Adapter interface {
	// Kind selects the normalizer field table for this source's items.
	Kind() normalize.SourceKind

	// FetchNextBatch retrieves the batch at the given cursor. An empty cursor
	// means the first batch. The 429 backoff-and-retry path lives inside the
	// adapter; any error returned here fails the whole job.
	FetchNextBatch(ctx context.Context, cursor string) (*Batch, error)

	// PageCeiling is the hard per-job page limit for this source.
	PageCeiling() int
}

// portalHost is the ad-transparency portal all target URLs must belong to.
const portalHost = "adstransparency.google.com"

// Query is the upstream search derived from a transparency portal URL:
// either an advertiser id or a free-text/domain term, optionally scoped to
// a region.
type Query struct {
	AdvertiserID string
	Text         string
	Region       string
}

var reAdvertiserPath = regexp.MustCompile(`advertiser/(AR\d+)`)

// ParseTargetURL validates that rawURL belongs to the transparency portal and
// extracts the search parameters from it.
func ParseTargetURL(rawURL string) (*Query, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.Contains(u.Host, portalHost) {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			"invalid ad-transparency URL: expected https://"+portalHost+"/...", err)
	}

	q := &Query{}
	params := u.Query()

	if id := params.Get("advertiser_id"); id != "" {
		q.AdvertiserID = id
	} else if m := reAdvertiserPath.FindStringSubmatch(u.Path); m != nil {
		q.AdvertiserID = m[1]
	} else if domain := params.Get("domain"); domain != "" {
		q.Text = domain
	} else if text := params.Get("text"); text != "" {
		q.Text = text
	} else {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			"could not extract domain or advertiser id from URL", nil)
	}

	if region := params.Get("region"); region != "" && region != "anywhere" {
		q.Region = mapRegion(region)
	}
	return q, nil
}

// regionMap translates portal region codes to the search API's numeric codes.
var regionMap = map[string]string{
	"US": "2840",
	"GB": "2826",
	"UK": "2826",
	"DE": "2276",
	"FR": "2250",
	"JP": "2392",
	"CA": "2124",
	"AU": "2036",
}

func mapRegion(region string) string {
	if code, ok := regionMap[strings.ToUpper(region)]; ok {
		return code
	}
	return region
}

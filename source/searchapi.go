package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
)

// searchEngine is the upstream engine identifier for transparency searches.
const searchEngine = "google_ads_transparency_center"

// maxRateLimitRetries bounds the 429 backoff-and-retry loop per batch. The
// page ceiling acts as the outer bound across a job.
const maxRateLimitRetries = 3

// SearchAPIAdapter pages through the key-based search API. The cursor is the
// opaque next-page token returned by the upstream.
type SearchAPIAdapter struct {
	cfg        config.SearchAPIConfig
	query      *Query
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSearchAPIAdapter builds an adapter for one parsed query. It fails fast
// when the API key is absent so callers can surface NOT_CONFIGURED before
// starting a job.
func NewSearchAPIAdapter(cfg config.SearchAPIConfig, query *Query) (*SearchAPIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, models.NewScrapeError(models.ErrCodeNotConfigured,
			"search API key is not configured (SERPAPI_API_KEY)", nil)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &SearchAPIAdapter{
		cfg:        cfg,
		query:      query,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (a *SearchAPIAdapter) Kind() normalize.SourceKind { return normalize.SourceSearchAPI }

func (a *SearchAPIAdapter) PageCeiling() int {
	if a.cfg.MaxPages > 0 {
		return a.cfg.MaxPages
	}
	return 10
}

// searchResponse is the slice of the upstream payload we consume.
type searchResponse struct {
	Error       string                 `json:"error"`
	AdCreatives []normalize.RawAdBlock `json:"ad_creatives"`
	Pagination  struct {
		NextPageToken string `json:"next_page_token"`
	} `json:"serpapi_pagination"`
}

// FetchNextBatch requests one page of ad creatives. On HTTP 429 it backs off
// for the configured fixed delay and retries the same cursor; this is the
// only retry path in the system.
func (a *SearchAPIAdapter) FetchNextBatch(ctx context.Context, cursor string) (*Batch, error) {
	reqURL := a.buildURL(cursor)

	for attempt := 0; ; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInternal, "build search request", err)
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeUpstream, "search API request failed", err)
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, models.NewScrapeError(models.ErrCodeUpstream, "read search API response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt >= maxRateLimitRetries {
				return nil, models.NewScrapeError(models.ErrCodeRateLimited,
					"search API rate limit persisted after retries", nil)
			}
			if err := sleepCtx(ctx, a.cfg.RetryBackoff); err != nil {
				return nil, err
			}
			continue // same cursor
		}
		if resp.StatusCode != http.StatusOK {
			return nil, models.NewScrapeError(models.ErrCodeUpstream,
				fmt.Sprintf("search API returned %d", resp.StatusCode), nil)
		}

		var sr searchResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeUpstream, "decode search API response", err)
		}
		if sr.Error != "" {
			return nil, models.NewScrapeError(models.ErrCodeUpstream, sr.Error, nil)
		}

		next := sr.Pagination.NextPageToken
		return &Batch{
			Items:      sr.AdCreatives,
			NextCursor: next,
			HasMore:    next != "",
		}, nil
	}
}

func (a *SearchAPIAdapter) buildURL(cursor string) string {
	pageSize := a.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	params := url.Values{}
	params.Set("engine", searchEngine)
	params.Set("api_key", a.cfg.APIKey)
	params.Set("num", strconv.Itoa(pageSize))
	if a.query.AdvertiserID != "" {
		params.Set("advertiser_id", a.query.AdvertiserID)
	} else {
		params.Set("text", a.query.Text)
	}
	if a.query.Region != "" {
		params.Set("region", a.query.Region)
	}
	if cursor != "" {
		params.Set("next_page_token", cursor)
	}
	return a.cfg.BaseURL + "?" + params.Encode()
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

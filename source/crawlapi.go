package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
)

// Crawl run statuses as reported by the managed crawl API.
const (
	CrawlStatusReady     = "READY"
	CrawlStatusRunning   = "RUNNING"
	CrawlStatusSucceeded = "SUCCEEDED"
	CrawlStatusFailed    = "FAILED"
	CrawlStatusTimedOut  = "TIMED-OUT"
	CrawlStatusAborted   = "ABORTED"
)

// CrawlTerminal reports whether a crawl run status is final.
func CrawlTerminal(status string) bool {
	switch status {
	case CrawlStatusSucceeded, CrawlStatusFailed, CrawlStatusTimedOut, CrawlStatusAborted:
		return true
	}
	return false
}

// RunInfo is the status snapshot of one crawl run.
type RunInfo struct {
	RunID     string
	Status    string
	DatasetID string
	ItemCount int
}

// CrawlClient talks to the managed crawl API: it starts hosted actor runs,
// polls their status, and drains result datasets in offset windows. It backs
// both the synchronous crawl adapter and the async runs HTTP surface.
type CrawlClient struct {
	cfg        config.CrawlAPIConfig
	httpClient *http.Client
}

// NewCrawlClient fails fast when the API token is absent.
func NewCrawlClient(cfg config.CrawlAPIConfig) (*CrawlClient, error) {
	if cfg.APIToken == "" {
		return nil, models.NewScrapeError(models.ErrCodeNotConfigured,
			"crawl API token is not configured (APIFY_API_TOKEN)", nil)
	}
	return &CrawlClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// RunInput is the actor input for one crawl run.
type RunInput struct {
	URL        string
	MaxResults int
}

// StartRun launches a hosted actor run against the target URL and returns the
// run id without waiting for it.
func (c *CrawlClient) StartRun(ctx context.Context, in RunInput) (string, error) {
	input := map[string]any{
		"startUrls": []map[string]string{{"url": in.URL}},
	}
	if in.MaxResults > 0 {
		input["maxItems"] = in.MaxResults
	}
	body, err := json.Marshal(input)
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeInternal, "encode crawl input", err)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/runs?token=%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.ActorID), url.QueryEscape(c.cfg.APIToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeInternal, "build crawl start request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var envelope struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := c.do(req, http.StatusCreated, &envelope); err != nil {
		return "", err
	}
	if envelope.Data.ID == "" {
		return "", models.NewScrapeError(models.ErrCodeUpstream, "crawl API returned no run id", nil)
	}
	return envelope.Data.ID, nil
}

// RunStatus fetches the current state of a run.
func (c *CrawlClient) RunStatus(ctx context.Context, runID string) (*RunInfo, error) {
	endpoint := fmt.Sprintf("%s/actor-runs/%s?token=%s",
		c.cfg.BaseURL, url.PathEscape(runID), url.QueryEscape(c.cfg.APIToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "build run status request", err)
	}

	var envelope struct {
		Data struct {
			ID               string `json:"id"`
			Status           string `json:"status"`
			DefaultDatasetID string `json:"defaultDatasetId"`
			Stats            struct {
				ItemCount int `json:"itemCount"`
			} `json:"stats"`
		} `json:"data"`
	}
	if err := c.do(req, http.StatusOK, &envelope); err != nil {
		return nil, err
	}
	return &RunInfo{
		RunID:     envelope.Data.ID,
		Status:    envelope.Data.Status,
		DatasetID: envelope.Data.DefaultDatasetID,
		ItemCount: envelope.Data.Stats.ItemCount,
	}, nil
}

// FetchItems drains one window of a run's result dataset.
func (c *CrawlClient) FetchItems(ctx context.Context, datasetID string, offset, limit int) ([]normalize.RawAdBlock, error) {
	endpoint := fmt.Sprintf("%s/datasets/%s/items?token=%s&format=json&offset=%d&limit=%d",
		c.cfg.BaseURL, url.PathEscape(datasetID), url.QueryEscape(c.cfg.APIToken), offset, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "build dataset request", err)
	}

	var items []normalize.RawAdBlock
	if err := c.do(req, http.StatusOK, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// WaitRun polls a run until it reaches a terminal status or the configured
// run timeout elapses.
func (c *CrawlClient) WaitRun(ctx context.Context, runID string) (*RunInfo, error) {
	deadline := time.Now().Add(c.cfg.RunTimeout)
	for {
		info, err := c.RunStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if CrawlTerminal(info.Status) {
			return info, nil
		}
		if time.Now().After(deadline) {
			return info, models.NewScrapeError(models.ErrCodeTimeout,
				"crawl run did not finish within the run timeout", nil)
		}
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (c *CrawlClient) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeUpstream, "crawl API request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return models.NewScrapeError(models.ErrCodeUpstream, "read crawl API response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return models.NewScrapeError(models.ErrCodeRateLimited, "crawl API rate limited", nil)
	}
	if resp.StatusCode != wantStatus {
		return models.NewScrapeError(models.ErrCodeUpstream,
			fmt.Sprintf("crawl API returned %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return models.NewScrapeError(models.ErrCodeUpstream, "decode crawl API response", err)
	}
	return nil
}

// CrawlAdapter runs one managed crawl to completion and then pages through
// the result dataset. The first batch carries the start-and-wait latency; the
// cursor from then on is just the dataset offset.
type CrawlAdapter struct {
	client *CrawlClient
	input  RunInput

	runID     string
	datasetID string
}

func NewCrawlAdapter(client *CrawlClient, input RunInput) *CrawlAdapter {
	return &CrawlAdapter{client: client, input: input}
}

func (a *CrawlAdapter) Kind() normalize.SourceKind { return normalize.SourceCrawlAPI }

// PageCeiling is effectively unbounded for crawls: the actor's own maxItems
// and the orchestrator's record ceiling do the limiting.
func (a *CrawlAdapter) PageCeiling() int { return 1000 }

func (a *CrawlAdapter) FetchNextBatch(ctx context.Context, cursor string) (*Batch, error) {
	if a.datasetID == "" {
		runID, err := a.client.StartRun(ctx, a.input)
		if err != nil {
			return nil, err
		}
		a.runID = runID

		info, err := a.client.WaitRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if info.Status != CrawlStatusSucceeded {
			return nil, models.NewScrapeError(models.ErrCodeUpstream,
				"crawl run ended with status "+info.Status, nil)
		}
		a.datasetID = info.DatasetID
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInternal, "malformed crawl cursor", err)
		}
		offset = n
	}

	limit := a.client.cfg.PageLimit
	if limit <= 0 {
		limit = 200
	}
	items, err := a.client.FetchItems(ctx, a.datasetID, offset, limit)
	if err != nil {
		return nil, err
	}
	fetched := len(items)

	return &Batch{
		Items:      ExpandPageItems(ctx, items, a.input.URL),
		NextCursor: strconv.Itoa(offset + fetched),
		HasMore:    fetched == limit,
	}, nil
}

// Some actors emit whole crawled pages instead of structured creatives.
// ExpandPageItems replaces every page-shaped dataset item with the ad blocks
// the extraction tiers recover from its HTML; structured items pass through
// untouched.
func ExpandPageItems(ctx context.Context, items []normalize.RawAdBlock, sourceURL string) []normalize.RawAdBlock {
	out := make([]normalize.RawAdBlock, 0, len(items))
	for _, item := range items {
		page := pageHTML(item)
		if page == "" {
			out = append(out, item)
			continue
		}
		tp := &TextPatternAdapter{HTML: page, SourceURL: sourceURL}
		batch, err := tp.FetchNextBatch(ctx, "")
		if err != nil {
			continue
		}
		out = append(out, batch.Items...)
	}
	return out
}

// pageHTML returns the crawled page markup carried by a dataset item, or ""
// for structured creative items.
func pageHTML(item normalize.RawAdBlock) string {
	for _, k := range []string{"html", "pageHtml", "pageContent"} {
		if s, ok := item[k].(string); ok && strings.Contains(s, "<") {
			return s
		}
	}
	return ""
}

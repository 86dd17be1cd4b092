package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
	"github.com/use-agent/adscope/normalize"
)

// fakeCrawlAPI mimics the hosted crawl API: run creation, status polls that
// go RUNNING → SUCCEEDED, and a windowed dataset.
type fakeCrawlAPI struct {
	polls atomic.Int32
	items []map[string]any
}

func (f *fakeCrawlAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var input map[string]any
			if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
				t.Errorf("bad run input: %v", err)
			}
			if _, ok := input["startUrls"]; !ok {
				t.Error("run input missing startUrls")
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "run-1", "status": "READY"},
			})

		case r.URL.Path == "/actor-runs/run-1":
			status := "RUNNING"
			if f.polls.Add(1) >= 2 {
				status = "SUCCEEDED"
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"id":               "run-1",
					"status":           status,
					"defaultDatasetId": "ds-1",
					"stats":            map[string]int{"itemCount": len(f.items)},
				},
			})

		case r.URL.Path == "/datasets/ds-1/items":
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			end := offset + limit
			if end > len(f.items) {
				end = len(f.items)
			}
			if offset > len(f.items) {
				offset = len(f.items)
			}
			json.NewEncoder(w).Encode(f.items[offset:end])

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
	}
}

func crawlCfg(baseURL string) config.CrawlAPIConfig {
	return config.CrawlAPIConfig{
		APIToken:     "test-token",
		BaseURL:      baseURL,
		ActorID:      "acme/test-actor",
		PollInterval: time.Millisecond,
		RunTimeout:   time.Second,
		PageLimit:    2,
	}
}

func TestCrawlAdapter_RunsToCompletionAndDrains(t *testing.T) {
	fake := &fakeCrawlAPI{items: []map[string]any{
		{"creativeId": "CR1", "advertiserName": "Acme"},
		{"creativeId": "CR2", "advertiserName": "Acme"},
		{"creativeId": "CR3", "advertiserName": "Acme"},
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, err := NewCrawlClient(crawlCfg(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	adapter := NewCrawlAdapter(client, RunInput{URL: "https://adstransparency.google.com/?domain=acme.example"})

	// First batch carries run start + poll latency, then the first window.
	b1, err := adapter.FetchNextBatch(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(b1.Items) != 2 || !b1.HasMore || b1.NextCursor != "2" {
		t.Fatalf("first batch = %+v", b1)
	}

	b2, err := adapter.FetchNextBatch(context.Background(), b1.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(b2.Items) != 1 || b2.HasMore {
		t.Fatalf("second batch = %+v", b2)
	}
	if fake.polls.Load() < 2 {
		t.Errorf("polls = %d, want the run to be polled to a terminal state", fake.polls.Load())
	}
}

func TestCrawlAdapter_ExpandsPageItems(t *testing.T) {
	fake := &fakeCrawlAPI{items: []map[string]any{
		{"html": adMarkup},
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, err := NewCrawlClient(crawlCfg(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	adapter := NewCrawlAdapter(client, RunInput{URL: "https://adstransparency.google.com/?domain=shop.example"})

	batch, err := adapter.FetchNextBatch(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Items) != 1 || batch.Items[0]["title"] != "Spring Sale" {
		t.Fatalf("page item not expanded: %+v", batch.Items)
	}
	if batch.HasMore {
		t.Error("HasMore must follow the raw dataset window, not the expanded count")
	}

	recs := normalize.Filter(batch.Items, normalize.SourceCrawlAPI)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1 from the crawled page", len(recs))
	}
	if recs[0].Headline != "Spring Sale" {
		t.Errorf("headline = %q", recs[0].Headline)
	}
}

func TestCrawlClient_FailedRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "run-2", "status": "READY"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "run-2", "status": "FAILED"},
		})
	}))
	defer srv.Close()

	client, err := NewCrawlClient(crawlCfg(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	adapter := NewCrawlAdapter(client, RunInput{URL: "https://adstransparency.google.com/?text=x"})

	_, err = adapter.FetchNextBatch(context.Background(), "")
	var se *models.ScrapeError
	if !errors.As(err, &se) || se.Code != models.ErrCodeUpstream {
		t.Fatalf("err = %v, want UPSTREAM_ERROR for failed run", err)
	}
}

func TestNewCrawlClient_MissingToken(t *testing.T) {
	_, err := NewCrawlClient(config.CrawlAPIConfig{})
	var se *models.ScrapeError
	if !errors.As(err, &se) || se.Code != models.ErrCodeNotConfigured {
		t.Fatalf("err = %v, want NOT_CONFIGURED", err)
	}
}

func TestCrawlTerminal(t *testing.T) {
	for _, s := range []string{CrawlStatusSucceeded, CrawlStatusFailed, CrawlStatusTimedOut, CrawlStatusAborted} {
		if !CrawlTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []string{CrawlStatusReady, CrawlStatusRunning} {
		if CrawlTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

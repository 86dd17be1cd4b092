package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
)

func visionCfg(baseURL string) config.VisionConfig {
	return config.VisionConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "test-model",
		BatchSize:      2,
		BatchDelay:     time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}
}

// newImageServer serves a tiny fake PNG.
func newImageServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG fake image bytes"))
	}))
}

// newVisionServer replies to every messages call with the given reply text.
func newVisionServer(t *testing.T, replyText string, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}

		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Errorf("unexpected message shape: %+v", req.Messages)
		} else if req.Messages[0].Content[0].Source == nil ||
			req.Messages[0].Content[0].Source.Data == "" {
			t.Error("image block missing base64 data")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": replyText}},
		})
	}))
}

func TestEnrich_MergesFirstWriterWins(t *testing.T) {
	imgSrv := newImageServer()
	defer imgSrv.Close()

	reply := `Here you go: {"headline":"OCR headline","description":"OCR description","callToAction":"Shop Now","visibleUrl":"acme.example","brandName":"Acme","allText":"OCR headline OCR description Shop Now"}`
	visionSrv := newVisionServer(t, reply, nil)
	defer visionSrv.Close()

	e := NewEnricher(NewClient(visionCfg(visionSrv.URL)))
	rec := &models.AdRecord{
		ID:       "ad1",
		Headline: "Existing headline",
		Images:   []string{imgSrv.URL + "/creative.png"},
	}
	recNoImage := &models.AdRecord{ID: "ad2"}

	stats := e.Enrich(context.Background(), []*models.AdRecord{rec, recNoImage}, 0)

	if stats.Attempted != 1 || stats.Successful != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if !rec.VisionProcessed {
		t.Error("VisionProcessed not set")
	}
	if rec.Headline != "Existing headline" {
		t.Errorf("existing headline overwritten: %q", rec.Headline)
	}
	if rec.Description != "OCR description" || rec.AllText == "" {
		t.Errorf("extracted fields not merged: %+v", rec)
	}
	if rec.Advertiser != "" {
		// Advertiser was empty, not the sentinel, so it must stay untouched.
		t.Errorf("Advertiser = %q", rec.Advertiser)
	}
	if recNoImage.VisionProcessed {
		t.Error("record without image was processed")
	}
}

func TestEnrich_PerRecordFailureNotFatal(t *testing.T) {
	imgSrv := newImageServer()
	defer imgSrv.Close()

	var calls atomic.Int32
	visionSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": `{"headline":"h","description":"","callToAction":"","visibleUrl":"","brandName":"","allText":"h"}`}},
		})
	}))
	defer visionSrv.Close()

	cfg := visionCfg(visionSrv.URL)
	cfg.BatchSize = 1 // deterministic ordering across batches
	e := NewEnricher(NewClient(cfg))

	recs := []*models.AdRecord{
		{ID: "ad1", Images: []string{imgSrv.URL + "/a.png"}},
		{ID: "ad2", Images: []string{imgSrv.URL + "/b.png"}},
	}
	stats := e.Enrich(context.Background(), recs, 0)

	if stats.Attempted != 2 || stats.Successful != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if recs[0].VisionProcessed {
		t.Error("failed record marked processed")
	}
	if !recs[1].VisionProcessed {
		t.Error("successful record not marked processed")
	}
}

func TestEnrich_RespectsLimit(t *testing.T) {
	imgSrv := newImageServer()
	defer imgSrv.Close()

	var calls atomic.Int32
	visionSrv := newVisionServer(t, `{"headline":"h","description":"","callToAction":"","visibleUrl":"","brandName":"","allText":""}`, &calls)
	defer visionSrv.Close()

	e := NewEnricher(NewClient(visionCfg(visionSrv.URL)))
	var recs []*models.AdRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, &models.AdRecord{ID: "ad", Images: []string{imgSrv.URL}})
	}

	stats := e.Enrich(context.Background(), recs, 2)
	if stats.Attempted != 2 || calls.Load() != 2 {
		t.Errorf("attempted = %d, calls = %d, want 2 each", stats.Attempted, calls.Load())
	}
}

func TestEnrich_UnconfiguredSkips(t *testing.T) {
	e := NewEnricher(NewClient(config.VisionConfig{}))
	recs := []*models.AdRecord{{ID: "ad1", Images: []string{"https://cdn.example/a.png"}}}
	stats := e.Enrich(context.Background(), recs, 0)
	if stats.Attempted != 0 {
		t.Errorf("stats = %+v, want nothing attempted without an API key", stats)
	}
}

func TestProcessBatch_ItemWithoutImageFailsAlone(t *testing.T) {
	imgSrv := newImageServer()
	defer imgSrv.Close()

	visionSrv := newVisionServer(t, `{"headline":"h","description":"","callToAction":"","visibleUrl":"","brandName":"","allText":""}`, nil)
	defer visionSrv.Close()

	e := NewEnricher(NewClient(visionCfg(visionSrv.URL)))
	results, stats := e.ProcessBatch(context.Background(), []models.OCRBatchItem{
		{ID: "a", ImageURL: imgSrv.URL},
		{ID: "b"},
	})

	if stats.Attempted != 2 || stats.Successful != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if !results[0].Success || results[0].Data == nil {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Success || results[1].Error == "" {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestParseReply_ToleratesSurroundingProse(t *testing.T) {
	reply, err := parseReply("Sure! ```json\n{\"headline\":\"H\",\"description\":\"D\",\"callToAction\":\"\",\"visibleUrl\":\"\",\"brandName\":\"\",\"allText\":\"\"}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Headline != "H" || reply.Description != "D" {
		t.Errorf("reply = %+v", reply)
	}

	if _, err := parseReply("no json here"); err == nil {
		t.Error("expected error for reply without JSON")
	}
}

func TestParseReply_RejectsMalformedJSON(t *testing.T) {
	if _, err := parseReply(`{"headline": `); err == nil {
		t.Error("expected error")
	}
}

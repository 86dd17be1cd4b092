package source

import (
	"context"
	"testing"

	"github.com/use-agent/adscope/normalize"
)

const adMarkup = `<html><body>
	<div class="ads-ad">
		<h3>Spring Sale</h3>
		<p>Everything half price this weekend only</p>
		<a href="https://shop.example/sale">Shop now</a>
	</div>
</body></html>`

func TestTextPatternAdapter_SingleBatch(t *testing.T) {
	a := &TextPatternAdapter{
		HTML:      adMarkup,
		SourceURL: "https://adstransparency.google.com/?domain=shop.example",
	}

	if a.Kind() != normalize.SourceTextPattern {
		t.Errorf("Kind = %s", a.Kind())
	}
	if a.PageCeiling() != 1 {
		t.Errorf("PageCeiling = %d, want 1", a.PageCeiling())
	}

	batch, err := a.FetchNextBatch(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Items) != 1 || batch.HasMore {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Items[0]["title"] != "Spring Sale" {
		t.Errorf("title = %v", batch.Items[0]["title"])
	}
}

func TestExpandPageItems_MixedDataset(t *testing.T) {
	items := []normalize.RawAdBlock{
		{"creativeId": "CR1", "advertiserName": "Acme"},
		{"html": adMarkup},
	}

	out := ExpandPageItems(context.Background(), items,
		"https://adstransparency.google.com/?domain=shop.example")
	if len(out) != 2 {
		t.Fatalf("expanded items = %d, want structured passthrough plus one extracted block", len(out))
	}
	if out[0]["creativeId"] != "CR1" {
		t.Errorf("structured item mangled: %v", out[0])
	}
	if out[1]["title"] != "Spring Sale" {
		t.Errorf("extracted block = %v", out[1])
	}

	recs := normalize.Filter(out, normalize.SourceCrawlAPI)
	if len(recs) != 2 {
		t.Errorf("normalized records = %d, want 2", len(recs))
	}
}

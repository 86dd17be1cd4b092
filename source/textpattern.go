package source

import (
	"context"

	"github.com/use-agent/adscope/extract"
	"github.com/use-agent/adscope/normalize"
)

// TextPatternAdapter runs the extraction tiers over HTML that has already been
// fetched by some other means. It always yields exactly one batch.
type TextPatternAdapter struct {
	HTML      string
	SourceURL string
}

func (a *TextPatternAdapter) Kind() normalize.SourceKind { return normalize.SourceTextPattern }

func (a *TextPatternAdapter) PageCeiling() int { return 1 }

func (a *TextPatternAdapter) FetchNextBatch(ctx context.Context, cursor string) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Batch{
		Items:   extract.AdBlocks(a.HTML, a.SourceURL),
		HasMore: false,
	}, nil
}

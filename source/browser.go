package source

import (
	"context"
	"strconv"

	"github.com/use-agent/adscope/extract"
	"github.com/use-agent/adscope/normalize"
)

// PageSession is the slice of a live browser page the adapter needs. The
// browser package's Session satisfies it.
type PageSession interface {
	HTML() (string, error)
	LoadMore(ctx context.Context) (bool, error)
	Close()
}

// SessionOpener opens a page session on a target URL.
type SessionOpener func(ctx context.Context, target string) (PageSession, error)

// BrowserAdapter drives a rendered page session: snapshot the DOM, extract ad
// blocks, ask the page for more, repeat. The first time the page fails to
// grow, the source is considered exhausted. The orchestrator deduplicates the
// overlapping snapshots by record id.
type BrowserAdapter struct {
	open      SessionOpener
	targetURL string
	maxPages  int

	session PageSession
}

func NewBrowserAdapter(open SessionOpener, targetURL string, maxPages int) *BrowserAdapter {
	if maxPages <= 0 {
		maxPages = 10
	}
	return &BrowserAdapter{open: open, targetURL: targetURL, maxPages: maxPages}
}

func (a *BrowserAdapter) Kind() normalize.SourceKind { return normalize.SourceBrowser }

func (a *BrowserAdapter) PageCeiling() int { return a.maxPages }

func (a *BrowserAdapter) FetchNextBatch(ctx context.Context, cursor string) (*Batch, error) {
	if a.session == nil {
		s, err := a.open(ctx, a.targetURL)
		if err != nil {
			return nil, err
		}
		a.session = s
	}

	rawHTML, err := a.session.HTML()
	if err != nil {
		return nil, err
	}
	items := extract.AdBlocks(rawHTML, a.targetURL)

	grew, err := a.session.LoadMore(ctx)
	if err != nil {
		// The snapshot in hand is still good; just stop here.
		return &Batch{Items: items, HasMore: false}, nil
	}

	page := 0
	if cursor != "" {
		page, _ = strconv.Atoi(cursor)
	}

	return &Batch{
		Items:      items,
		NextCursor: strconv.Itoa(page + 1),
		HasMore:    grew,
	}, nil
}

// Close releases the underlying page session back to the pool.
func (a *BrowserAdapter) Close() {
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
}

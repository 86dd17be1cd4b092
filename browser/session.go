package browser

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/adscope/extract"
	"github.com/use-agent/adscope/models"
)

// Session is one rendered page borrowed from the pool, bound to a single
// target URL for its whole lifetime. The portal renders results
// incrementally, so the session stays open across LoadMore rounds instead of
// re-navigating per batch.
type Session struct {
	b      *Browser
	page   *rod.Page // original reference, used for cleanup
	p      *rod.Page // context-bound reference, used for operations
	router *rod.HijackRouter
}

// Open acquires a page, installs stealth and resource blocking, navigates to
// the target, and waits for the DOM to settle.
//
// Order matters: stealth JS and the hijack router only take effect for
// navigations that happen after they are installed.
func (b *Browser) Open(ctx context.Context, target string) (*Session, error) {
	b.activePages.Add(1)

	page, err := b.pagePool.Get(func() (*rod.Page, error) {
		return b.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		b.activePages.Add(-1)
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to acquire page from pool",
			err,
		)
	}

	s := &Session{b: b, page: page}

	if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
	}

	// A plausible search referer keeps the portal from serving the bot
	// interstitial on some egress networks.
	if u, parseErr := url.Parse(target); parseErr == nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{
				"Referer": "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()),
			}),
		}.Call(page)
	}

	s.router = mountHijack(page)

	s.p = page.Context(ctx)

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	if navErr := page.Context(navCtx).Navigate(target); navErr != nil {
		s.Close()
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}
	if stableErr := s.p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"error", stableErr)
	}

	// A rendered portal page without any ad markup usually means a consent
	// wall or bot interstitial. Not fatal: the extraction tiers still get a
	// chance on the snapshot.
	if rendered, err := s.p.HTML(); err == nil && !extract.HasAdMarkup(rendered) {
		slog.Warn("no ad markup on rendered page, possible interstitial", "url", target)
	}

	return s, nil
}

// HTML snapshots the current rendered document.
func (s *Session) HTML() (string, error) {
	rawHTML, err := s.p.HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return rawHTML, nil
}

// loadMoreJS clicks the first element that looks like a load-more control.
// Returns whether anything was clicked.
const loadMoreJS = `() => {
	const wanted = ['show more', 'load more', 'more results', 'see more ads', 'continue'];
	const candidates = document.querySelectorAll('button, [role="button"], a');
	for (const el of candidates) {
		const label = ((el.textContent || '') + ' ' + (el.getAttribute('aria-label') || '')).toLowerCase();
		if (wanted.some(t => label.includes(t))) {
			el.click();
			return true;
		}
	}
	return false;
}`

const scrollHeightJS = `() => document.body ? document.body.scrollHeight : 0`

// LoadMore requests the next increment of results: click a load-more control
// when one exists, otherwise scroll to the bottom. Reports whether the page
// actually grew; a page that stops growing is exhausted.
func (s *Session) LoadMore(ctx context.Context) (bool, error) {
	p := s.page.Context(ctx)

	before := evalInt(p, scrollHeightJS)

	clicked := false
	if res, err := p.Eval(loadMoreJS); err == nil {
		clicked = res.Value.Bool()
	}
	if !clicked {
		if _, err := p.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return false, categorizeError(err, "scroll failed")
		}
	}

	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable after load-more did not converge", "error", err)
	}

	after := evalInt(p, scrollHeightJS)
	return after > before, nil
}

// Close returns the page to the pool. Navigating to about:blank first uses
// the original page reference so cleanup succeeds even after the request
// context has expired.
func (s *Session) Close() {
	if s.router != nil {
		_ = s.router.Stop()
	}
	if navErr := s.page.Navigate("about:blank"); navErr != nil {
		slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
	}
	s.b.pagePool.Put(s.page)
	s.b.activePages.Add(-1)
}

func evalInt(page *rod.Page, js string) int {
	res, err := page.Eval(js)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed ScrapeErrors so callers can map
// them to job outcomes and HTTP status codes.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}

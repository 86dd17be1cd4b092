// Package extract recovers ad-like blocks from crawled or rendered HTML.
//
// Extraction runs in fixed priority order: structured DOM selectors first,
// then transparency-portal text patterns, then generic paragraph/URL
// heuristics over the readability-extracted main text. The first tier that
// yields any blocks wins.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/adscope/normalize"
)

// AdBlocks extracts raw ad blocks from one HTML page. It never fails; a page
// with nothing recognizable yields an empty slice.
func AdBlocks(rawHTML, sourceURL string) []normalize.RawAdBlock {
	if blocks := fromSelectors(rawHTML); len(blocks) > 0 {
		return blocks
	}
	if blocks := fromPortalPatterns(rawHTML); len(blocks) > 0 {
		return blocks
	}
	return fromParagraphs(rawHTML, sourceURL)
}

// adSelectors are the DOM shapes ad creatives render under on the
// transparency portal and in archived search result markup.
var adSelectors = []string{
	"[data-creative-id]",
	".eLNT1d",
	".commercial-unit-desktop-rhs",
	".ads-ad",
	".mnr-c",
	".uEierd",
	".VqFMTc",
	".cu-container",
	`[role="listitem"]`,
	".g-blk",
}

var (
	headingSelector = `h3, .BNeawe, .LC20lb, .ads-creative-headline, [role="heading"]`
	textSelector    = ".VwiC3b, .BNeawe, .ads-creative-text, .yXK7lf, p"
)

// fromSelectors is tier 1: structured DOM extraction.
func fromSelectors(rawHTML string) []normalize.RawAdBlock {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var blocks []normalize.RawAdBlock
	seen := make(map[string]struct{})

	for _, selector := range adSelectors {
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			title := strings.TrimSpace(s.Find(headingSelector).First().Text())

			var descriptions []string
			s.Find(textSelector).Each(func(_ int, d *goquery.Selection) {
				text := strings.TrimSpace(d.Text())
				if len(text) > 10 {
					descriptions = append(descriptions, text)
				}
			})

			href, _ := s.Find("a[href]").First().Attr("href")

			var images []string
			s.Find("img").Each(func(_ int, img *goquery.Selection) {
				src, _ := img.Attr("src")
				if src != "" && strings.HasPrefix(src, "http") && !strings.Contains(src, "data:image") {
					images = append(images, src)
				}
			})

			if title == "" && len(descriptions) == 0 {
				return
			}

			// The same element often matches several selectors; dedupe on
			// the content we actually extracted.
			key := title + "|" + href + "|" + strings.Join(descriptions, "|")
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}

			format := "Text"
			if len(images) > 0 {
				format = "Display"
			}
			if s.Find("video").Length() > 0 || strings.Contains(s.Text(), "Video") {
				format = "Video"
			}

			block := normalize.RawAdBlock{
				"title":       title,
				"description": strings.Join(descriptions, " | "),
				"url":         href,
				"images":      images,
				"format":      format,
			}
			if dr := DateRange(s.Text()); dr != "" {
				block["dateRange"] = dr
			}
			blocks = append(blocks, block)
		})
	}

	return blocks
}

// Portal-specific patterns: creative detail links and shown-date ranges.
var (
	reCreativeLink = regexp.MustCompile(`https?://adstransparency\.google\.com/advertiser/(AR\d+)/creative/(CR\d+)\S*`)
	reURL          = regexp.MustCompile(`https?://[^\s"'<>]+`)
	reDateRanges   = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}\s*-\s*\d{1,2}/\d{1,2}/\d{4}`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}\s*-\s*\d{4}-\d{2}-\d{2}`),
		regexp.MustCompile(`(?i)(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2},?\s+\d{4}`),
	}
)

// DateRange finds the first shown-date range pattern in free text.
func DateRange(text string) string {
	for _, re := range reDateRanges {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// fromPortalPatterns is tier 2: regex recovery of creative links when the
// DOM shape is unrecognizable (minified, reshuffled class names).
func fromPortalPatterns(rawHTML string) []normalize.RawAdBlock {
	matches := reCreativeLink.FindAllStringSubmatch(rawHTML, -1)
	if len(matches) == 0 {
		return nil
	}

	var blocks []normalize.RawAdBlock
	seen := make(map[string]struct{})
	for _, m := range matches {
		link, advertiserID, creativeID := m[0], m[1], m[2]
		if _, dup := seen[creativeID]; dup {
			continue
		}
		seen[creativeID] = struct{}{}
		blocks = append(blocks, normalize.RawAdBlock{
			"id":           creativeID,
			"advertiserId": advertiserID,
			"url":          link,
			"format":       "Unknown",
		})
	}
	return blocks
}

// fromParagraphs is tier 3, the fallback of last resort: split the page's
// main text into paragraph blocks and keep the ones that look like ads.
func fromParagraphs(rawHTML, sourceURL string) []normalize.RawAdBlock {
	content := mainText(rawHTML, sourceURL)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var blocks []normalize.RawAdBlock
	for i, para := range splitParagraphs(content) {
		urlMatch := reURL.FindString(para)
		if urlMatch == "" && !strings.Contains(para, "Ad") && !strings.Contains(para, "Sponsored") {
			continue
		}

		var lines []string
		for _, line := range strings.Split(para, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				lines = append(lines, trimmed)
			}
		}
		if len(lines) < 2 {
			continue
		}

		block := normalize.RawAdBlock{
			"id":          fmt.Sprintf("text_%d_%d", time.Now().Unix(), i),
			"title":       lines[0],
			"description": strings.Join(lines[1:], " | "),
			"url":         urlMatch,
			"format":      "Text",
		}
		if dr := DateRange(para); dr != "" {
			block["dateRange"] = dr
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func splitParagraphs(text string) []string {
	var paras []string
	for _, block := range regexp.MustCompile(`\n\s*\n`).Split(text, -1) {
		if len(strings.TrimSpace(block)) > 20 {
			paras = append(paras, block)
		}
	}
	return paras
}

package extract

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// combinedAdSelector is the precompiled union of all ad selectors, used for a
// cheap has-ad-markup probe before full block extraction.
var combinedAdSelector = cascadia.MustCompile(strings.Join(adSelectors, ", "))

// HasAdMarkup reports whether the HTML contains any element matching the
// known ad selectors. Cheaper than running full extraction when a caller
// only needs a yes/no.
func HasAdMarkup(rawHTML string) bool {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return false
	}
	return cascadia.Query(doc, combinedAdSelector) != nil
}

// minContentLength is the minimum readability TextContent length for the
// extraction to be considered successful. Below it we fall back to the
// tokenizer-based visible text.
const minContentLength = 50

// mainText recovers the page's main textual content for the paragraph tier.
// Readability strips navigation and boilerplate; when it fails or finds too
// little, the raw visible text is used instead.
func mainText(rawHTML, sourceURL string) string {
	parsedURL, err := nurl.Parse(sourceURL)
	if err == nil {
		article, rerr := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
		if rerr == nil && len(strings.TrimSpace(article.TextContent)) >= minContentLength {
			return article.TextContent
		}
		if rerr != nil {
			slog.Debug("readability extraction failed, using visible text",
				"url", sourceURL, "error", rerr)
		}
	}
	return visibleText(rawHTML)
}

// visibleText extracts the text within <body>, stripping tags and
// <script>/<style>/<noscript> content. Block-level end tags become paragraph
// breaks so the paragraph splitter has boundaries to work with.
func visibleText(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "body" {
				inBody = true
			}
			if tag == "script" || tag == "style" || tag == "noscript" {
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			case "p", "div", "section", "li", "tr":
				buf.WriteString("\n\n")
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					buf.WriteString(text)
					buf.WriteByte('\n')
				}
			}
		}
	}
}

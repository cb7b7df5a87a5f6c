// Package extract turns fetched HTML into title, visible text, and
// outbound links.
package extract

import (
	"io"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content types accepted for extraction.
var defaultAllowedTypes = []string{"text/html", "application/xhtml+xml"}

// strippedSelectors are removed before text extraction: non-content
// markup plus boilerplate chrome that would skew word frequencies.
const strippedSelectors = "script, style, noscript, iframe, nav, header, footer"

// Result is the extracted content of one page.
type Result struct {
	Title string
	Text  string
	// Links holds href values of anchor elements in document order,
	// resolved by the caller against the final URL. May contain relative
	// references, duplicates, and non-http schemes.
	Links []string
	// Degraded marks pages whose markup could not be fully parsed; the
	// other fields hold whatever was recoverable.
	Degraded bool
}

// Extractor parses HTML documents.
type Extractor struct {
	allowedTypes map[string]struct{}
}

// New creates an Extractor accepting the default HTML content types.
func New(extraTypes ...string) *Extractor {
	e := &Extractor{allowedTypes: make(map[string]struct{})}
	for _, t := range defaultAllowedTypes {
		e.allowedTypes[t] = struct{}{}
	}
	for _, t := range extraTypes {
		e.allowedTypes[strings.ToLower(t)] = struct{}{}
	}
	return e
}

// ContentTypeAllowed reports whether a Content-Type header value names an
// extractable media type. Parameters like charset are ignored; a missing
// header is treated as HTML since many servers omit it.
func (e *Extractor) ContentTypeAllowed(header string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}

	_, ok := e.allowedTypes[mediaType]
	return ok
}

// Extract parses an HTML body. Malformed markup never fails the page:
// the html parser recovers what it can and the result is marked Degraded
// only when parsing errors out entirely.
func (e *Extractor) Extract(body io.Reader) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		// Unparseable input yields an empty degraded result rather than a
		// failed URL.
		return &Result{Degraded: true}, nil
	}

	doc.Find(strippedSelectors).Remove()

	result := &Result{
		Title: extractTitle(doc),
		Text:  collapseWhitespace(doc.Find("body").Text()),
	}
	if result.Text == "" {
		result.Text = collapseWhitespace(doc.Text())
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		result.Links = append(result.Links, href)
	})

	return result, nil
}

// extractTitle prefers the document title, falling back to the Open Graph
// title for pages that only set metadata.
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

// collapseWhitespace folds runs of whitespace into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package extract

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
)

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, blockquote, pre"

// HTMLExtractor reads a saved HTML newsletter as a single page.
type HTMLExtractor struct{}

// NewHTMLExtractor creates an HTML extractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract parses the document and emits one block of text per block element,
// separated by blank lines. h1-h3 become heading hints.
func (e *HTMLExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &internalerr.ExtractionError{Source: path, Reason: "read file", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, &internalerr.ExtractionError{Source: path, Reason: "parse HTML", Err: err}
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find("script, style, noscript, nav").Remove()

	var blocks, headings []string
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		text := collapseLines(s.Text())
		if text == "" {
			return
		}
		blocks = append(blocks, text)
		if goquery.NodeName(s) == "h1" || goquery.NodeName(s) == "h2" || goquery.NodeName(s) == "h3" {
			headings = append(headings, text)
		}
	})

	out := &Document{
		Source:    path,
		SHA256:    hashBytes(content),
		PageCount: 1,
		Pages: []Page{{
			Number:   1,
			Text:     strings.Join(blocks, "\n\n"),
			Headings: headings,
		}},
	}
	return finish(out)
}

// collapseLines trims each line and joins the non-empty ones with spaces.
func collapseLines(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

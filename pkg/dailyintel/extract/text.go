package extract

import (
	"context"
	"os"
	"strings"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
)

// TextExtractor reads plain text or markdown. A form feed starts a new page
// and lines beginning with '#' are heading hints.
type TextExtractor struct{}

// NewTextExtractor creates a text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract reads the file.
func (e *TextExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &internalerr.ExtractionError{Source: path, Reason: "read file", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return finish(ParseText(path, content))
}

// ParseText splits raw text into pages without touching the text itself.
func ParseText(source string, content []byte) *Document {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	chunks := strings.Split(text, "\f")

	doc := &Document{Source: source, SHA256: hashBytes(content), PageCount: len(chunks)}
	for i, chunk := range chunks {
		var headings []string
		for _, line := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				headings = append(headings, strings.TrimSpace(line))
			}
		}
		doc.Pages = append(doc.Pages, Page{Number: i + 1, Text: chunk, Headings: headings})
	}
	return doc
}

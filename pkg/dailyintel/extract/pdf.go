package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
)

// headingRatio is how much larger than the page's median glyph a line's
// largest glyph must be to count as a heading.
const headingRatio = 1.25

// PDFExtractor extracts per-page text from PDF files.
type PDFExtractor struct {
	logger *slog.Logger
}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor(logger *slog.Logger) *PDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{logger: logger}
}

// Extract validates the file with pdfcpu (relaxed, non-fatal) and reads the
// text of every page. Pages that fail are listed in FailedPages.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	logCtx := e.logger.With("source", path)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &internalerr.ExtractionError{Source: path, Reason: "read file", Err: err}
	}
	if len(content) == 0 {
		return nil, &internalerr.ExtractionError{Source: path, Reason: "empty file"}
	}

	doc := &Document{Source: path, SHA256: hashBytes(content)}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		logCtx.Warn("PDF failed relaxed validation, extracting anyway", "error", err)
	}
	if n, err := api.PageCountFile(path); err == nil {
		doc.PageCount = n
	} else {
		logCtx.Warn("Could not read page count", "error", err)
	}

	reader, err := openPDF(content)
	if err != nil {
		return nil, &internalerr.ExtractionError{Source: path, Reason: "open PDF", Err: err}
	}

	numPages := reader.NumPage()
	if doc.PageCount == 0 {
		doc.PageCount = numPages
	}
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := extractPage(reader, i)
		if err != nil {
			logCtx.Warn("Page extraction failed, skipping page", "page", i, "error", err)
			doc.FailedPages = append(doc.FailedPages, i)
			continue
		}
		doc.Pages = append(doc.Pages, page)
	}

	logCtx.Info("PDF extracted", "pages", len(doc.Pages), "failedPages", len(doc.FailedPages))
	return finish(doc)
}

func openPDF(content []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pdf reader panic: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(content), int64(len(content)))
}

// extractPage reads one page. Text is rebuilt from positioned glyphs so
// line and paragraph breaks survive; pages without glyph positions fall back
// to the reader's plain text. The pdf reader panics on some malformed content
// streams; that is reported as a page error.
func extractPage(reader *pdf.Reader, num int) (page Page, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d: reader panic: %v", num, p)
		}
	}()

	p := reader.Page(num)
	if p.V.IsNull() {
		return Page{}, fmt.Errorf("page %d: missing page object", num)
	}

	lines := groupLines(p.Content().Text)
	text, headings := layoutText(lines)
	if strings.TrimSpace(text) == "" {
		text, err = p.GetPlainText(nil)
		if err != nil {
			return Page{}, fmt.Errorf("page %d: %w", num, err)
		}
	}
	return Page{Number: num, Text: text, Headings: headings}, nil
}

type glyphLine struct {
	y       float64
	text    strings.Builder
	maxSize float64
	lastEnd float64
}

// groupLines joins glyphs sharing a baseline, inserting a space where the
// horizontal gap between glyphs is wider than a fraction of the font size.
func groupLines(glyphs []pdf.Text) []*glyphLine {
	var lines []*glyphLine
	var cur *glyphLine
	for _, g := range glyphs {
		if cur == nil || math.Abs(cur.y-g.Y) > 0.5 {
			cur = &glyphLine{y: g.Y}
			lines = append(lines, cur)
		} else if g.W > 0 && cur.lastEnd > 0 && g.X-cur.lastEnd > g.FontSize*0.2 {
			cur.text.WriteByte(' ')
		}
		cur.text.WriteString(g.S)
		if g.W > 0 {
			cur.lastEnd = g.X + g.W
		}
		if g.FontSize > cur.maxSize {
			cur.maxSize = g.FontSize
		}
	}
	return lines
}

// layoutText renders lines as text, with a blank line wherever the vertical
// gap suggests a paragraph break, and returns the lines set noticeably larger
// than the page's body text as heading hints.
func layoutText(lines []*glyphLine) (string, []string) {
	if len(lines) == 0 {
		return "", nil
	}

	sizes := make([]float64, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l.text.String()) != "" {
			sizes = append(sizes, l.maxSize)
		}
	}
	if len(sizes) == 0 {
		return "", nil
	}
	sort.Float64s(sizes)
	median := sizes[len(sizes)/2]

	var b strings.Builder
	var headings []string
	var prev *glyphLine
	for _, l := range lines {
		text := strings.TrimSpace(l.text.String())
		if text == "" {
			continue
		}
		if prev != nil {
			b.WriteByte('\n')
			if gap := prev.y - l.y; gap > 1.8*math.Max(prev.maxSize, l.maxSize) {
				b.WriteByte('\n')
			}
		}
		b.WriteString(text)
		prev = l

		if n := len([]rune(text)); n >= 3 && n <= 160 && median > 0 && l.maxSize >= median*headingRatio {
			headings = append(headings, text)
		}
	}
	return b.String(), headings
}

// Package extract turns a daily source document into page text plus the
// structural hints (page breaks, headings) the structurer segments on.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
)

// Page is the text of one source page.
type Page struct {
	Number   int
	Text     string
	Headings []string // lines of Text that looked like headings
}

// Document is the extraction output for one source file.
type Document struct {
	Source      string
	SHA256      string
	Pages       []Page
	FailedPages []int
	PageCount   int
}

// Text returns all page text joined by blank lines.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Extractor reads one source document.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Document, error)
}

// Registry maps file extensions to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates a registry with the PDF, HTML and text extractors.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register(NewPDFExtractor(logger), ".pdf")
	r.Register(NewHTMLExtractor(), ".html", ".htm")
	r.Register(NewTextExtractor(), ".txt", ".md", ".text")
	return r
}

// Register adds or replaces the extractor for the given extensions.
func (r *Registry) Register(e Extractor, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range exts {
		r.extractors[strings.ToLower(ext)] = e
	}
}

// For returns the extractor for path based on its extension.
func (r *Registry) For(path string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext := strings.ToLower(filepath.Ext(path))
	if e, ok := r.extractors[ext]; ok {
		return e, nil
	}
	return nil, &internalerr.ExtractionError{Source: path, Reason: fmt.Sprintf("no extractor for %q files", ext)}
}

// Extract dispatches to the extractor registered for path.
func (r *Registry) Extract(ctx context.Context, path string) (*Document, error) {
	e, err := r.For(path)
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, path)
}

// Supports reports whether an extractor is registered for path.
func (r *Registry) Supports(path string) bool {
	_, err := r.For(path)
	return err == nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// finish drops blank pages and fails when nothing usable is left.
func finish(doc *Document) (*Document, error) {
	kept := doc.Pages[:0]
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		kept = append(kept, p)
	}
	doc.Pages = kept
	if len(doc.Pages) == 0 {
		reason := "no extractable text"
		if len(doc.FailedPages) > 0 {
			reason = fmt.Sprintf("no extractable text (%d page(s) failed)", len(doc.FailedPages))
		}
		return nil, &internalerr.ExtractionError{Source: doc.Source, Reason: reason}
	}
	return doc, nil
}

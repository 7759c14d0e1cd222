package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cognicore/dailyintel/pkg/dailyintel/extract"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

const (
	maxTitleRunes          = 160
	DefaultMaxStoryChars   = 4000
	DefaultMaxSummaryChars = 400
)

var (
	citationRe    = regexp.MustCompile(`\s*\[cite:\s*[\d,\s]+\]`)
	headingMarkRe = regexp.MustCompile(`^(?:#{1,6}\s+|\(?\d{1,2}[.)]\s+)`)
)

// Options tunes segmentation.
type Options struct {
	MaxStoryChars   int // blocks above this are split on paragraphs
	MaxSummaryChars int
}

func (o Options) withDefaults() Options {
	if o.MaxStoryChars <= 0 {
		o.MaxStoryChars = DefaultMaxStoryChars
	}
	if o.MaxSummaryChars <= 0 {
		o.MaxSummaryChars = DefaultMaxSummaryChars
	}
	return o
}

// Result is the structurer's output for one document.
type Result struct {
	Drafts   []story.Record
	Warnings []internalerr.SegmentationWarning
}

// Structurer turns an extracted document into draft story records.
type Structurer struct {
	classifier *Classifier
	opts       Options
	logger     *slog.Logger
}

// NewStructurer creates a structurer. A nil classifier uses the defaults.
func NewStructurer(classifier *Classifier, opts Options, logger *slog.Logger) *Structurer {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Structurer{
		classifier: classifier,
		opts:       opts.withDefaults(),
		logger:     logger.With("component", "structurer"),
	}
}

// Structure segments doc into drafts. Drafts carry title, summary, raw_text,
// tags and the position/pages/has_heading metadata; ids are assigned later.
//
// When the document has no explicit story boundaries, or a block is larger
// than MaxStoryChars, blocks are split on paragraphs and a warning is
// recorded: more, shorter records are preferred over merged ones.
func (s *Structurer) Structure(doc *extract.Document) Result {
	var res Result
	for _, p := range doc.FailedPages {
		res.Warnings = append(res.Warnings, internalerr.SegmentationWarning{Page: p, Reason: "page could not be extracted"})
	}

	blocks, explicit := segment(doc)
	if !explicit && len(blocks) > 0 {
		res.Warnings = append(res.Warnings, internalerr.SegmentationWarning{Reason: "no story boundaries found, split on paragraphs"})
		var split []block
		for _, b := range blocks {
			split = append(split, paragraphs(b)...)
		}
		blocks = split
	}

	var final []block
	for _, b := range blocks {
		if b.size() <= s.opts.MaxStoryChars {
			final = append(final, b)
			continue
		}
		parts := pack(b, s.opts.MaxStoryChars)
		if len(parts) > 1 {
			res.Warnings = append(res.Warnings, internalerr.SegmentationWarning{
				Page:   b.firstPage(),
				Reason: fmt.Sprintf("story of %d chars split into %d parts", b.size(), len(parts)),
			})
		}
		final = append(final, parts...)
	}

	for _, b := range final {
		rec, err := s.draft(b, len(res.Drafts))
		if err != nil {
			res.Warnings = append(res.Warnings, internalerr.SegmentationWarning{Page: b.firstPage(), Reason: "skipped block: " + err.Error()})
			continue
		}
		res.Drafts = append(res.Drafts, rec)
	}

	s.logger.Debug("Document structured", "source", doc.Source, "blocks", len(final), "drafts", len(res.Drafts), "warnings", len(res.Warnings))
	return res
}

func (s *Structurer) draft(b block, position int) (story.Record, error) {
	texts := make([]string, len(b.lines))
	for i, l := range b.lines {
		texts[i] = l.text
	}
	raw := strings.Join(texts, "\n")
	if strings.TrimSpace(raw) == "" {
		return story.Record{}, errors.New("blank block")
	}

	body := collapse(raw)
	var title string
	if b.heading != "" {
		title = cleanHeading(b.heading)
		body = collapse(strings.Join(texts[1:], "\n"))
		if body == "" {
			return story.Record{}, fmt.Errorf("heading %q has no body", truncateRunes(title, 60))
		}
	} else {
		title = firstSentence(body)
	}

	title = truncateRunes(stripCitations(title), maxTitleRunes)
	if title == "" {
		return story.Record{}, errors.New("no usable title")
	}
	summary := summarize(stripCitations(body), s.opts.MaxSummaryChars)

	tags := s.classifier.Classify(title + "\n" + body)
	rec := story.Record{
		Title:      title,
		Summary:    summary,
		Categories: tags.Categories,
		People:     tags.People,
		Companies:  tags.Companies,
		RawText:    raw,
	}
	rec.SetMeta(story.MetaPosition, position)
	rec.SetMeta(story.MetaPages, pagesOf(b))
	rec.SetMeta(story.MetaHasHeading, b.heading != "")
	return rec, nil
}

func pagesOf(b block) []int {
	seen := make(map[int]struct{})
	var pages []int
	for _, l := range b.lines {
		if _, ok := seen[l.page]; ok || strings.TrimSpace(l.text) == "" {
			continue
		}
		seen[l.page] = struct{}{}
		pages = append(pages, l.page)
	}
	sort.Ints(pages)
	return pages
}

func cleanHeading(h string) string {
	h = headingMarkRe.ReplaceAllString(strings.TrimSpace(h), "")
	h = strings.Trim(h, "*_ ")
	return collapse(h)
}

// stripCitations removes "[cite: 1, 2]" markers.
func stripCitations(s string) string {
	return strings.TrimSpace(citationRe.ReplaceAllString(s, ""))
}

var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "st": {}, "vs": {}, "inc": {},
	"corp": {}, "co": {}, "ltd": {}, "u.s": {}, "u.k": {}, "e.g": {}, "i.e": {},
}

// sentences splits collapsed text after '.', '!' or '?' when the next word
// starts with an uppercase letter, digit or quote.
func sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if r := runes[i]; r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && strings.ContainsRune(`"'”’)]`, runes[j]) {
			j++
		}
		if j >= len(runes) || runes[j] != ' ' || j+1 >= len(runes) {
			continue
		}
		next := runes[j+1]
		if !unicode.IsUpper(next) && !unicode.IsDigit(next) && next != '"' && next != '“' {
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes[start:i]) {
			continue
		}
		out = append(out, string(runes[start:j]))
		start = j + 1
		i = j
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isAbbreviation(before []rune) bool {
	k := len(before)
	for k > 0 && before[k-1] != ' ' {
		k--
	}
	_, ok := abbreviations[strings.ToLower(string(before[k:]))]
	return ok
}

func firstSentence(text string) string {
	if ss := sentences(text); len(ss) > 0 {
		return ss[0]
	}
	return text
}

// summarize takes whole sentences up to limit runes, truncating the first
// sentence when it alone is too long.
func summarize(text string, limit int) string {
	var b strings.Builder
	n := 0
	for _, sent := range sentences(text) {
		sn := utf8.RuneCountInString(sent)
		if n == 0 && sn > limit {
			return truncateRunes(sent, limit)
		}
		if n > 0 && n+1+sn > limit {
			break
		}
		if n > 0 {
			b.WriteByte(' ')
			n++
		}
		b.WriteString(sent)
		n += sn
	}
	return b.String()
}

// truncateRunes cuts s to at most limit runes at a word boundary, marking the
// cut with an ellipsis.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := limit - 1
	for i := cut; i > limit/2; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " ,;:") + "…"
}

package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cognicore/dailyintel/pkg/dailyintel/extract"
)

var (
	separatorRe = regexp.MustCompile(`^(?:-{3,}|\*{3,}|_{3,}|={3,})$`)
	markdownRe  = regexp.MustCompile(`^#{1,6}\s+\S`)
	numberedRe  = regexp.MustCompile(`^\(?\d{1,2}[.)]\s+\S`)
)

type line struct {
	page int
	text string
}

// block is a run of source lines believed to be one story.
type block struct {
	lines   []line
	heading string // raw heading line, if the block opened with one
}

func (b block) empty() bool {
	for _, l := range b.lines {
		if strings.TrimSpace(l.text) != "" {
			return false
		}
	}
	return true
}

// trimmed drops trailing blank lines.
func (b block) trimmed() block {
	end := len(b.lines)
	for end > 0 && strings.TrimSpace(b.lines[end-1].text) == "" {
		end--
	}
	b.lines = b.lines[:end]
	return b
}

func (b block) lastText() string {
	for i := len(b.lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(b.lines[i].text); t != "" {
			return t
		}
	}
	return ""
}

func (b block) firstPage() int {
	if len(b.lines) == 0 {
		return 0
	}
	return b.lines[0].page
}

func (b block) size() int {
	n := 0
	for _, l := range b.lines {
		n += len(l.text) + 1
	}
	return n
}

// segment splits the document into blocks on explicit boundaries. It reports
// whether any explicit boundary (heading, separator, numbered headline) was
// seen; page breaks alone do not count.
func segment(doc *extract.Document) ([]block, bool) {
	var blocks []block
	cur := &block{}
	explicit := false

	closeCur := func() {
		if !cur.empty() {
			blocks = append(blocks, cur.trimmed())
		}
		cur = &block{}
	}

	for pi, page := range doc.Pages {
		// A story that runs across the page break ends mid-sentence.
		if pi > 0 && !cur.empty() && endsSentence(cur.lastText()) {
			closeCur()
		}

		hints := make(map[string]struct{}, len(page.Headings))
		for _, h := range page.Headings {
			hints[collapse(h)] = struct{}{}
		}

		prevBlank := true
		for _, raw := range strings.Split(page.Text, "\n") {
			raw = strings.TrimRight(raw, "\r")
			text := strings.TrimSpace(raw)

			if text == "" {
				if !cur.empty() {
					cur.lines = append(cur.lines, line{page: page.Number, text: raw})
				}
				prevBlank = true
				continue
			}
			if separatorRe.MatchString(text) {
				closeCur()
				explicit = true
				prevBlank = true
				continue
			}
			if isHeading(text, hints, prevBlank) {
				closeCur()
				explicit = true
				cur.heading = text
			}
			cur.lines = append(cur.lines, line{page: page.Number, text: raw})
			prevBlank = false
		}
	}
	closeCur()
	return blocks, explicit
}

func isHeading(text string, hints map[string]struct{}, paragraphStart bool) bool {
	if _, ok := hints[collapse(text)]; ok {
		return true
	}
	if markdownRe.MatchString(text) {
		return true
	}
	if paragraphStart && numberedRe.MatchString(text) && utf8.RuneCountInString(text) <= maxTitleRunes {
		last, _ := utf8.DecodeLastRuneInString(text)
		return !strings.ContainsRune(".,:;", last)
	}
	return false
}

// paragraphSpans returns the [start, end) line ranges of b's blank-line
// separated paragraphs. A heading that stands alone is merged into the
// paragraph after it.
func paragraphSpans(b block) [][2]int {
	var spans [][2]int
	start := -1
	for i, l := range b.lines {
		blank := strings.TrimSpace(l.text) == ""
		switch {
		case !blank && start < 0:
			start = i
		case blank && start >= 0:
			spans = append(spans, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(b.lines)})
	}
	if b.heading != "" && len(spans) > 1 && spans[0] == [2]int{0, 1} {
		spans[1][0] = 0
		spans = spans[1:]
	}
	return spans
}

// sub returns the verbatim lines [start, end) of b as a block, keeping the
// heading only when the range opens with it.
func (b block) sub(start, end int) block {
	out := block{lines: b.lines[start:end]}
	if start == 0 {
		out.heading = b.heading
	}
	return out
}

// paragraphs splits b into one block per paragraph.
func paragraphs(b block) []block {
	spans := paragraphSpans(b)
	out := make([]block, 0, len(spans))
	for _, sp := range spans {
		out = append(out, b.sub(sp[0], sp[1]))
	}
	return out
}

// pack greedily regroups b's paragraphs into blocks no larger than limit.
// Lines between grouped paragraphs are kept as they were.
func pack(b block, limit int) []block {
	spans := paragraphSpans(b)
	var out []block
	for i := 0; i < len(spans); {
		start, end := spans[i][0], spans[i][1]
		j := i + 1
		for j < len(spans) && b.sub(start, spans[j][1]).size() <= limit {
			end = spans[j][1]
			j++
		}
		out = append(out, b.sub(start, end))
		i = j
	}
	return out
}

func endsSentence(s string) bool {
	s = strings.TrimRight(s, `"'”’)`)
	if s == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	return last == '.' || last == '!' || last == '?'
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

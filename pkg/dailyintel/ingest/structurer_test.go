package ingest

import (
	"reflect"
	"strings"
	"testing"

	"github.com/cognicore/dailyintel/pkg/dailyintel/extract"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

func textDoc(pages ...string) *extract.Document {
	return extract.ParseText("brief.txt", []byte(strings.Join(pages, "\f")))
}

func TestStructureMarkdownHeadings(t *testing.T) {
	doc := textDoc(`# Nvidia unveils new GPU
Nvidia announced the B300 chip on Tuesday. Jensen Huang said shipments start in March.

# OpenAI raises funding
OpenAI raised $10B at a record valuation. [cite: 3]`)

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d: %+v", len(res.Drafts), res.Warnings)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}

	first := res.Drafts[0]
	if first.Title != "Nvidia unveils new GPU" {
		t.Errorf("title = %q", first.Title)
	}
	if first.RawText != "# Nvidia unveils new GPU\nNvidia announced the B300 chip on Tuesday. Jensen Huang said shipments start in March." {
		t.Errorf("raw_text not verbatim: %q", first.RawText)
	}
	if !reflect.DeepEqual(first.Companies, []string{"Nvidia"}) {
		t.Errorf("companies = %v", first.Companies)
	}
	if !reflect.DeepEqual(first.People, []string{"Jensen Huang"}) {
		t.Errorf("people = %v", first.People)
	}
	if !contains(first.Categories, "Chips") {
		t.Errorf("expected Chips in %v", first.Categories)
	}
	if pos, _ := first.MetaInt(story.MetaPosition); pos != 0 {
		t.Errorf("position = %d", pos)
	}
	if !first.MetaBool(story.MetaHasHeading) {
		t.Error("has_heading should be true")
	}

	second := res.Drafts[1]
	if strings.Contains(second.Summary, "[cite") {
		t.Errorf("citation not stripped from summary: %q", second.Summary)
	}
	if !strings.Contains(second.RawText, "[cite: 3]") {
		t.Errorf("citation must stay in raw_text: %q", second.RawText)
	}
	if !contains(second.Categories, "Funding") {
		t.Errorf("expected Funding in %v", second.Categories)
	}
}

func TestStructureSeparatorsAndNumberedHeadlines(t *testing.T) {
	doc := textDoc(`1. Tesla shows humanoid robot
The Optimus robot folded laundry on stage.
---
Regulators in the EU opened an antitrust probe. The probe covers cloud contracts.

2) Intel delays factory
Intel pushed back its Ohio foundry again.`)

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 3 {
		t.Fatalf("expected 3 drafts, got %d", len(res.Drafts))
	}
	if res.Drafts[0].Title != "Tesla shows humanoid robot" {
		t.Errorf("numbered title = %q", res.Drafts[0].Title)
	}
	if res.Drafts[1].Title != "Regulators in the EU opened an antitrust probe." {
		t.Errorf("first-sentence title = %q", res.Drafts[1].Title)
	}
	if res.Drafts[1].MetaBool(story.MetaHasHeading) {
		t.Error("separator block has no heading")
	}
	if strings.Contains(res.Drafts[0].RawText, "---") {
		t.Error("separator line leaked into raw_text")
	}
	if res.Drafts[2].Title != "Intel delays factory" {
		t.Errorf("title = %q", res.Drafts[2].Title)
	}
}

func TestStructureFallsBackToParagraphs(t *testing.T) {
	doc := textDoc("Apple ships a new app for researchers.\n\nAmazon expands its chip lab.\n\nMeta opens its model weights.")

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 3 {
		t.Fatalf("expected one draft per paragraph, got %d", len(res.Drafts))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0].Reason, "no story boundaries") {
		t.Errorf("expected a segmentation warning, got %v", res.Warnings)
	}
	for i, d := range res.Drafts {
		if pos, _ := d.MetaInt(story.MetaPosition); pos != i {
			t.Errorf("draft %d position = %d", i, pos)
		}
	}
}

func TestStructurePageBreakMidSentence(t *testing.T) {
	doc := textDoc("# Chip export rules\nThe Commerce Department expanded the rules to cover", "more accelerators sold to China.\n\n# Second story\nBody here.")

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(res.Drafts))
	}
	first := res.Drafts[0]
	if !strings.Contains(first.RawText, "cover\nmore accelerators") {
		t.Errorf("story should continue across the page break: %q", first.RawText)
	}
	pages, ok := first.Metadata[story.MetaPages].([]int)
	if !ok || !reflect.DeepEqual(pages, []int{1, 2}) {
		t.Errorf("pages = %v", first.Metadata[story.MetaPages])
	}
}

func TestStructurePageBreakAfterSentence(t *testing.T) {
	doc := textDoc("# First\nThis story ends here.", "This is a new story on page two. It has no heading.")

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(res.Drafts))
	}
	if res.Drafts[1].Title != "This is a new story on page two." {
		t.Errorf("title = %q", res.Drafts[1].Title)
	}
}

func TestStructureSplitsOversizedBlocks(t *testing.T) {
	para := strings.Repeat("Word ", 30) + "end."
	body := strings.Join([]string{para, para, para, para}, "\n\n")
	doc := textDoc("# Long story\n" + body)

	res := NewStructurer(nil, Options{MaxStoryChars: 400}, nil).Structure(doc)
	if len(res.Drafts) < 2 {
		t.Fatalf("expected oversized block to be split, got %d drafts", len(res.Drafts))
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a segmentation warning for the split")
	}
	if res.Drafts[0].Title != "Long story" {
		t.Errorf("first part keeps heading, got %q", res.Drafts[0].Title)
	}
	for _, d := range res.Drafts {
		if len(d.RawText) > 400 {
			t.Errorf("part exceeds limit: %d chars", len(d.RawText))
		}
	}
}

func TestStructureSkipsHeadingWithoutBody(t *testing.T) {
	doc := textDoc("# Daily AI Brief\n\n# Real story\nSomething happened today.")

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(res.Drafts))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0].Reason, "no body") {
		t.Errorf("expected skip warning, got %v", res.Warnings)
	}
}

func TestStructureUnmatchedStoryHasEmptySets(t *testing.T) {
	doc := textDoc("# Weather\nIt rained all day in the valley.")

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(res.Drafts))
	}
	d := res.Drafts[0]
	if d.Categories == nil || len(d.Categories) != 0 {
		t.Errorf("categories = %#v", d.Categories)
	}
	if d.People == nil || d.Companies == nil {
		t.Error("entity sets must be empty, not nil")
	}
}

func TestSummaryLimit(t *testing.T) {
	text := "First sentence here. Second sentence is a bit longer. Third."
	if got := summarize(text, 25); got != "First sentence here." {
		t.Errorf("summarize = %q", got)
	}
	long := strings.Repeat("abc ", 50)
	if got := summarize(long, 20); len([]rune(got)) > 20 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncated summary = %q", got)
	}
}

func TestSentencesKeepAbbreviations(t *testing.T) {
	got := sentences("The U.S. Commerce Department acted. Dr. Smith agreed.")
	want := []string{"The U.S. Commerce Department acted.", "Dr. Smith agreed."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %q", got)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestStructureKeepsPagesAroundFailedOne(t *testing.T) {
	doc := &extract.Document{
		Source: "brief.pdf",
		Pages: []extract.Page{
			{Number: 1, Text: "# Nvidia unveils new GPU\nNvidia announced the B300 chip on Tuesday."},
			{Number: 3, Text: "# OpenAI raises funding\nOpenAI raised $10B at a record valuation."},
		},
		FailedPages: []int{2},
		PageCount:   3,
	}

	res := NewStructurer(nil, Options{}, nil).Structure(doc)
	if len(res.Drafts) != 2 {
		t.Fatalf("expected 2 drafts from the readable pages, got %d: %v", len(res.Drafts), res.Warnings)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Page != 2 {
		t.Fatalf("expected one warning for page 2, got %v", res.Warnings)
	}
	if res.Drafts[1].Title != "OpenAI raises funding" {
		t.Errorf("title = %q", res.Drafts[1].Title)
	}
}

func TestPackKeepsParagraphGroupsUnderLimit(t *testing.T) {
	b := block{heading: "# Long"}
	for _, text := range []string{"# Long", "aaaa", "", "bbbb", "", "cccc"} {
		b.lines = append(b.lines, line{page: 1, text: text})
	}

	parts := pack(b, 20)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	for _, p := range parts {
		if p.size() > 20 {
			t.Errorf("part of %d chars exceeds limit", p.size())
		}
	}
	if len(parts[0].lines) != 4 || parts[0].heading != "# Long" {
		t.Errorf("first part should hold the heading and two paragraphs, got %+v", parts[0])
	}
	if parts[1].lines[0].text != "cccc" {
		t.Errorf("second part starts with %q", parts[1].lines[0].text)
	}
}

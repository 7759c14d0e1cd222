package ingest

import (
	"reflect"
	"testing"
)

func TestTokenizerKeepsCompoundTokens(t *testing.T) {
	tok := NewTokenizer([]string{"the", "a"})
	got := tok.Tokenize("The GPT-4 model runs on a H100, x.ai said. 2025 -- a")
	want := []string{"gpt-4", "model", "runs", "on", "h100", "x.ai", "said"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestTokenizerWordsKeepsStopwords(t *testing.T) {
	tok := NewTokenizer([]string{"the"})
	got := tok.Words("The Nvidia's chip")
	want := []string{"the", "nvidia", "s", "chip"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words = %v, want %v", got, want)
	}
}

func TestPhraseParserLongestMatch(t *testing.T) {
	p := NewPhraseParser([]Phrase{
		{Canonical: "large language model", Variants: []string{"llm"}},
		{Canonical: "language model"},
	})
	got := p.Parse([]string{"new", "large", "language", "model", "and", "llm", "language", "model"})
	want := []string{"new", "large language model", "and", "large language model", "language model"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse = %v, want %v", got, want)
	}
}

func TestTaxonomyMatchesWholeWords(t *testing.T) {
	tax := NewTaxonomy()
	tax.AddEntity(EntityCompany, "Meta", nil)
	tax.AddCategory("Security", []string{"hack"})

	if got := tax.ExtractEntities([]string{"metadata", "leak"}); len(got) != 0 {
		t.Errorf("Meta must not match inside metadata: %v", got)
	}
	if got := tax.ExtractEntities([]string{"meta", "ships"}); len(got) != 1 || got[0].Value != "Meta" {
		t.Errorf("expected Meta, got %v", got)
	}
	if got := tax.AssignCategories([]string{"hackathon"}); len(got) != 0 {
		t.Errorf("hack must not match hackathon: %v", got)
	}
}

func TestClassifierDefaults(t *testing.T) {
	tags := DefaultClassifier().Classify("Sam Altman said OpenAI and Microsoft will launch a new LLM for ransomware research.")

	if !reflect.DeepEqual(tags.People, []string{"Sam Altman"}) {
		t.Errorf("people = %v", tags.People)
	}
	if !reflect.DeepEqual(tags.Companies, []string{"Microsoft", "OpenAI"}) {
		t.Errorf("companies = %v", tags.Companies)
	}
	for _, want := range []string{"AI", "Products", "Research", "Security"} {
		if !contains(tags.Categories, want) {
			t.Errorf("expected %s in %v", want, tags.Categories)
		}
	}
}

func TestClassifierDeterministicOrder(t *testing.T) {
	c := DefaultClassifier()
	text := "Nvidia, AMD and Intel fight over GPU supply while TSMC expands a foundry."
	first := c.Classify(text)
	for i := 0; i < 20; i++ {
		again := c.Classify(text)
		if !reflect.DeepEqual(first.Companies, again.Companies) || !reflect.DeepEqual(first.Categories, again.Categories) {
			t.Fatalf("classification is not deterministic: %v vs %v", first, again)
		}
	}
	if !reflect.DeepEqual(first.Companies, []string{"AMD", "Intel", "Nvidia", "TSMC"}) {
		t.Errorf("companies = %v", first.Companies)
	}
}

package ingest

import "strings"

// Phrase is a dictionary entry folding variants ("llm", "llms") into one
// canonical multi-word token ("large language model").
type Phrase struct {
	Canonical string   `yaml:"canonical"`
	Variants  []string `yaml:"variants"`
}

// PhraseParser recognises dictionary phrases in a token stream.
type PhraseParser struct {
	dict   map[string]string // lowercase phrase or variant → canonical
	maxLen int
}

// NewPhraseParser builds a parser over the given dictionary.
func NewPhraseParser(phrases []Phrase) *PhraseParser {
	p := &PhraseParser{dict: make(map[string]string), maxLen: 1}
	for _, ph := range phrases {
		canonical := strings.ToLower(strings.TrimSpace(ph.Canonical))
		if canonical == "" {
			continue
		}
		p.add(canonical, canonical)
		for _, v := range ph.Variants {
			p.add(strings.ToLower(strings.TrimSpace(v)), canonical)
		}
	}
	return p
}

func (p *PhraseParser) add(key, canonical string) {
	if key == "" {
		return
	}
	p.dict[key] = canonical
	if n := len(strings.Fields(key)); n > p.maxLen {
		p.maxLen = n
	}
}

// Parse replaces known phrases using greedy longest match.
func (p *PhraseParser) Parse(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		longest := p.maxLen
		if rest := len(tokens) - i; longest > rest {
			longest = rest
		}

		matched := false
		for n := longest; n >= 1; n-- {
			if canonical, ok := p.dict[strings.Join(tokens[i:i+n], " ")]; ok {
				out = append(out, canonical)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	return out
}

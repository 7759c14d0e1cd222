package ingest

// Classifier runs story text through tokenization, phrase recognition and
// taxonomy tagging:
// text → tokens → phrases → categories, and text → words → entities.
type Classifier struct {
	tokenizer *Tokenizer
	phrases   *PhraseParser
	taxonomy  *Taxonomy
}

// NewClassifier creates a classifier from its components. A nil phrase
// parser disables phrase folding.
func NewClassifier(tokenizer *Tokenizer, phrases *PhraseParser, taxonomy *Taxonomy) *Classifier {
	if phrases == nil {
		phrases = NewPhraseParser(nil)
	}
	return &Classifier{tokenizer: tokenizer, phrases: phrases, taxonomy: taxonomy}
}

// Tags is the classification of one story.
type Tags struct {
	Tokens     []string
	Categories []string
	People     []string
	Companies  []string
	Other      []Entity // entity types without a record field
}

// Classify tags text. Results are sorted and free of duplicates; a story
// matching nothing gets empty slices.
func (c *Classifier) Classify(text string) Tags {
	tokens := c.phrases.Parse(c.tokenizer.Tokenize(text))
	tags := Tags{
		Tokens:     tokens,
		Categories: nonNil(c.taxonomy.AssignCategories(tokens)),
		People:     []string{},
		Companies:  []string{},
	}

	for _, e := range c.taxonomy.ExtractEntities(c.tokenizer.Words(text)) {
		switch e.Type {
		case EntityPerson:
			tags.People = append(tags.People, e.Value)
		case EntityCompany:
			tags.Companies = append(tags.Companies, e.Value)
		default:
			tags.Other = append(tags.Other, e)
		}
	}
	return tags
}

// Taxonomy returns the classifier's taxonomy.
func (c *Classifier) Taxonomy() *Taxonomy { return c.taxonomy }

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

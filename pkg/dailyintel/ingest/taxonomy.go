package ingest

import (
	"sort"
	"strings"
)

// Entity types the taxonomy knows how to map onto record fields.
const (
	EntityPerson  = "person"
	EntityCompany = "company"
)

// Entity is a named entity found in a story.
type Entity struct {
	Type  string
	Value string
}

// Taxonomy holds the fixed category vocabulary and the entity dictionary.
// Keywords match whole words or whole word sequences, case-insensitively.
type Taxonomy struct {
	categories map[string][]string
	entities   map[string]map[string][]string // type → name → keywords
}

// NewTaxonomy creates an empty taxonomy.
func NewTaxonomy() *Taxonomy {
	return &Taxonomy{
		categories: make(map[string][]string),
		entities:   make(map[string]map[string][]string),
	}
}

// AddCategory registers a category tag and the keywords that select it.
func (t *Taxonomy) AddCategory(name string, keywords []string) {
	t.categories[name] = lowerAll(keywords)
}

// AddEntity registers a named entity. The name itself always matches.
func (t *Taxonomy) AddEntity(entityType, name string, keywords []string) {
	if t.entities[entityType] == nil {
		t.entities[entityType] = make(map[string][]string)
	}
	t.entities[entityType][name] = append(lowerAll(keywords), strings.ToLower(name))
}

// Categories returns the registered category names, sorted.
func (t *Taxonomy) Categories() []string {
	out := make([]string, 0, len(t.categories))
	for name := range t.categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AssignCategories returns the sorted categories whose keywords occur in tokens.
func (t *Taxonomy) AssignCategories(tokens []string) []string {
	text := padded(tokens)
	var out []string
	for name, keywords := range t.categories {
		for _, kw := range keywords {
			if strings.Contains(text, " "+kw+" ") {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ExtractEntities returns entities whose keywords occur in words, sorted by
// type then value.
func (t *Taxonomy) ExtractEntities(words []string) []Entity {
	text := padded(words)
	var out []Entity
	for entityType, named := range t.entities {
		for name, keywords := range named {
			for _, kw := range keywords {
				if strings.Contains(text, " "+kw+" ") {
					out = append(out, Entity{Type: entityType, Value: name})
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func padded(words []string) string {
	return " " + strings.Join(words, " ") + " "
}

// lowerAll lowercases keywords and re-joins multi-word ones with single spaces
// so they line up with the padded token text.
func lowerAll(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.Join(strings.Fields(strings.ToLower(kw)), " ")
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/dailyintel/pkg/dailyintel/ingest"
)

// Loader loads the classification files and constructs the classifier.
// Empty paths select the built-in defaults for that part.
type Loader struct {
	StoplistPath string
	DictPath     string
	TaxonomyPath string
}

// NewLoader returns a loader for the files named in cfg.
func NewLoader(cfg IngestConfig) *Loader {
	return &Loader{StoplistPath: cfg.StoplistPath, DictPath: cfg.DictPath, TaxonomyPath: cfg.TaxonomyPath}
}

// Components holds the loaded classification components.
type Components struct {
	Tokenizer  *ingest.Tokenizer
	Phrases    *ingest.PhraseParser
	Taxonomy   *ingest.Taxonomy
	Classifier *ingest.Classifier
}

// Load reads all configured files and returns initialized components.
func (l *Loader) Load() (*Components, error) {
	comp := &Components{}

	stopwords := ingest.DefaultStopwords
	if l.StoplistPath != "" {
		sl, err := LoadStoplist(l.StoplistPath)
		if err != nil {
			return nil, fmt.Errorf("load stoplist: %w", err)
		}
		stopwords = sl.Terms
	}
	comp.Tokenizer = ingest.NewTokenizer(stopwords)

	phrases := ingest.DefaultPhrases
	if l.DictPath != "" {
		dict, err := LoadDict(l.DictPath)
		if err != nil {
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
		phrases = dict
	}
	comp.Phrases = ingest.NewPhraseParser(phrases)

	if l.TaxonomyPath != "" {
		tax, err := LoadTaxonomy(l.TaxonomyPath)
		if err != nil {
			return nil, fmt.Errorf("load taxonomy: %w", err)
		}
		comp.Taxonomy = tax.Build()
	} else {
		comp.Taxonomy = ingest.DefaultTaxonomy()
	}

	comp.Classifier = ingest.NewClassifier(comp.Tokenizer, comp.Phrases, comp.Taxonomy)
	return comp, nil
}

// Taxonomy is the YAML form of the category vocabulary and entity
// dictionary:
//
//	categories:
//	  Chips: [chip, gpu, semiconductor]
//	entities:
//	  company:
//	    Nvidia: []
//	  person:
//	    Jensen Huang: [huang]
type Taxonomy struct {
	Categories map[string][]string            `yaml:"categories"`
	Entities   map[string]map[string][]string `yaml:"entities"`
}

// Build converts the file form into an ingest taxonomy.
func (t *Taxonomy) Build() *ingest.Taxonomy {
	tax := ingest.NewTaxonomy()
	for name, keywords := range t.Categories {
		tax.AddCategory(name, keywords)
	}
	for entityType, entities := range t.Entities {
		for name, keywords := range entities {
			tax.AddEntity(entityType, name, keywords)
		}
	}
	return tax
}

// LoadTaxonomy loads a taxonomy from a YAML file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tax Taxonomy
	if err := yaml.Unmarshal(data, &tax); err != nil {
		return nil, err
	}
	if len(tax.Categories) == 0 {
		return nil, fmt.Errorf("%s: no categories defined", path)
	}
	for entityType := range tax.Entities {
		if entityType != ingest.EntityPerson && entityType != ingest.EntityCompany {
			return nil, fmt.Errorf("%s: unknown entity type %q", path, entityType)
		}
	}
	return &tax, nil
}

// Stoplist represents the stopword list configuration
type Stoplist struct {
	Terms []string `yaml:"terms"`
}

// LoadStoplist loads stopwords from a YAML file
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sl Stoplist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, err
	}
	return &sl, nil
}

// LoadDict loads phrase entries from a file.
// Format: canonical|variant1|variant2 (one per line, # comments)
func LoadDict(path string) ([]ingest.Phrase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out []ingest.Phrase
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] == "" {
			continue
		}
		out = append(out, ingest.Phrase{Canonical: parts[0], Variants: parts[1:]})
	}
	return out, nil
}

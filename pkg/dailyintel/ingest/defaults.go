package ingest

// DefaultStopwords is a small English stopword list used when no stoplist
// file is configured.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "been", "but", "by", "for",
	"from", "has", "have", "he", "her", "his", "in", "into", "is", "it",
	"its", "new", "of", "on", "or", "said", "says", "she", "that", "the",
	"their", "they", "this", "to", "was", "were", "which", "will", "with",
}

// DefaultPhrases folds common variants of multi-word terms.
var DefaultPhrases = []Phrase{
	{Canonical: "large language model", Variants: []string{"llm", "llms", "large language models"}},
	{Canonical: "machine learning", Variants: []string{"ml"}},
	{Canonical: "artificial intelligence", Variants: []string{"ai"}},
	{Canonical: "generative ai", Variants: []string{"genai", "gen ai"}},
}

// DefaultTaxonomy returns the built-in category vocabulary and entity
// dictionary.
func DefaultTaxonomy() *Taxonomy {
	t := NewTaxonomy()

	t.AddCategory("AI", []string{"artificial intelligence", "large language model", "machine learning", "generative ai", "chatbot", "agent", "agents", "model", "models", "gpt", "gemini", "claude", "neural"})
	t.AddCategory("Robotics", []string{"robot", "robots", "robotics", "humanoid", "drone", "drones", "autonomous", "self-driving"})
	t.AddCategory("Chips", []string{"chip", "chips", "semiconductor", "semiconductors", "gpu", "gpus", "foundry", "wafer", "h100", "b200", "silicon"})
	t.AddCategory("Policy", []string{"regulation", "regulators", "policy", "law", "bill", "congress", "senate", "eu", "antitrust", "lawsuit", "ban", "export controls"})
	t.AddCategory("Security", []string{"security", "cybersecurity", "breach", "vulnerability", "malware", "ransomware", "hack", "hackers", "exploit", "phishing"})
	t.AddCategory("Funding", []string{"funding", "raises", "raised", "valuation", "investment", "investors", "funding round", "ipo", "acquisition", "acquires"})
	t.AddCategory("Research", []string{"research", "researchers", "paper", "study", "benchmark", "arxiv", "breakthrough"})
	t.AddCategory("Products", []string{"launch", "launches", "launched", "release", "released", "app", "feature", "features", "update", "available", "rollout"})

	for name, kws := range map[string][]string{
		"OpenAI":    {"chatgpt"},
		"Google":    {"alphabet", "deepmind"},
		"Nvidia":    {},
		"Microsoft": {},
		"Anthropic": {},
		"Meta":      {"facebook"},
		"Apple":     {},
		"Amazon":    {"aws"},
		"Tesla":     {},
		"TSMC":      {},
		"Intel":     {},
		"AMD":       {},
	} {
		t.AddEntity(EntityCompany, name, kws)
	}
	for name, kws := range map[string][]string{
		"Sam Altman":      {},
		"Jensen Huang":    {},
		"Sundar Pichai":   {},
		"Satya Nadella":   {},
		"Elon Musk":       {},
		"Mark Zuckerberg": {},
		"Dario Amodei":    {},
		"Demis Hassabis":  {},
	} {
		t.AddEntity(EntityPerson, name, kws)
	}
	return t
}

// DefaultClassifier wires the default stopwords, phrases and taxonomy.
func DefaultClassifier() *Classifier {
	return NewClassifier(NewTokenizer(DefaultStopwords), NewPhraseParser(DefaultPhrases), DefaultTaxonomy())
}

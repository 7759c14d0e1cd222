// Package rank computes engagement scores for a day's stories.
package rank

import (
	"math"
	"strings"

	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// Scorer calculates engagement scores from record fields only, so a
// published file can be rescored without re-ingestion.
type Scorer struct {
	weights Weights
	boosts  map[string]float64
}

// Weights defines the scoring weights. Negative values are treated as zero,
// which keeps the score monotonic in every signal.
type Weights struct {
	Prominence      float64 `yaml:"prominence"`       // earlier in the source is more prominent
	EntityFrequency float64 `yaml:"entity_frequency"` // entities other stories also mention
	Category        float64 `yaml:"category"`         // configured per-category boosts
	Entities        float64 `yaml:"entities"`         // number of named entities
	Length          float64 `yaml:"length"`           // amount of text
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{Prominence: 2.0, EntityFrequency: 0.5, Category: 1.0, Entities: 0.4, Length: 0.1}
}

// DefaultCategoryBoosts returns per-category boosts for the default vocabulary.
func DefaultCategoryBoosts() map[string]float64 {
	return map[string]float64{
		"AI": 1.0, "Chips": 0.8, "Security": 0.7, "Funding": 0.6,
		"Policy": 0.6, "Robotics": 0.6, "Research": 0.5, "Products": 0.5,
	}
}

// NewScorer creates a scorer. A nil boost map means no category boosts.
func NewScorer(w Weights, boosts map[string]float64) *Scorer {
	w.Prominence = math.Max(0, w.Prominence)
	w.EntityFrequency = math.Max(0, w.EntityFrequency)
	w.Category = math.Max(0, w.Category)
	w.Entities = math.Max(0, w.Entities)
	w.Length = math.Max(0, w.Length)

	b := make(map[string]float64, len(boosts))
	for k, v := range boosts {
		b[k] = math.Max(0, v)
	}
	return &Scorer{weights: w, boosts: b}
}

// Signals are the raw inputs of one story's score.
type Signals struct {
	Prominence      float64 // 1/(1+position)
	EntityFrequency float64 // mean count of other same-day stories per entity
	Category        float64 // sum of boosts of the story's categories
	Entities        float64 // log(1+entities)
	Length          float64 // log(1+words of raw_text)
}

// Breakdown is a weighted score with its parts.
type Breakdown struct {
	Prominence      float64
	EntityFrequency float64
	Category        float64
	Entities        float64
	Length          float64
	Total           float64
}

// Signals derives the signals of rec. mentions maps each entity to the number
// of same-day stories naming it; a nil map gives zero entity frequency.
func (s *Scorer) Signals(rec story.Record, position int, mentions map[string]int) Signals {
	if p, ok := rec.MetaInt(story.MetaPosition); ok && p >= 0 {
		position = p
	}

	entities := uniqueEntities(rec)
	freq := 0.0
	if len(entities) > 0 && mentions != nil {
		others := 0
		for _, e := range entities {
			if n := mentions[e]; n > 1 {
				others += n - 1
			}
		}
		freq = float64(others) / float64(len(entities))
	}

	cat := 0.0
	for _, c := range rec.Categories {
		cat += s.boosts[c]
	}

	return Signals{
		Prominence:      1 / (1 + float64(position)),
		EntityFrequency: freq,
		Category:        cat,
		Entities:        math.Log1p(float64(len(entities))),
		Length:          math.Log1p(float64(len(strings.Fields(rec.RawText)))),
	}
}

// Score weights the signals.
//
// score = wp·prominence + wf·entity_freq + wc·category + we·entities + wl·length
func (s *Scorer) Score(sig Signals) Breakdown {
	b := Breakdown{
		Prominence:      s.weights.Prominence * sig.Prominence,
		EntityFrequency: s.weights.EntityFrequency * sig.EntityFrequency,
		Category:        s.weights.Category * sig.Category,
		Entities:        s.weights.Entities * sig.Entities,
		Length:          s.weights.Length * sig.Length,
	}
	b.Total = round4(b.Prominence + b.EntityFrequency + b.Category + b.Entities + b.Length)
	return b
}

// ScoreDay scores a whole day. The returned records are copies with
// EngagementScore set; breakdowns are index-aligned with them.
func (s *Scorer) ScoreDay(records []story.Record) ([]story.Record, []Breakdown) {
	mentions := make(map[string]int)
	for _, rec := range records {
		for _, e := range uniqueEntities(rec) {
			mentions[e]++
		}
	}

	out := make([]story.Record, len(records))
	parts := make([]Breakdown, len(records))
	for i, rec := range records {
		b := s.Score(s.Signals(rec, i, mentions))
		out[i] = rec.Clone()
		out[i].EngagementScore = b.Total
		parts[i] = b
	}
	return out, parts
}

func uniqueEntities(rec story.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range rec.Entities() {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

package maintenance

import (
	"sort"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/rank"
)

// Ranked is one story of a rescoring report.
type Ranked struct {
	ID        string
	Title     string
	Position  int
	Stored    float64 // engagement_score in the file
	Fresh     float64 // score under the current weights
	Breakdown rank.Breakdown
}

// Rescore recomputes the scores of a published day from its file alone and
// returns the stories ranked by the fresh score. The file is not modified.
func Rescore(path string, scorer *rank.Scorer) ([]Ranked, error) {
	records, err := dataset.Read(path)
	if err != nil {
		return nil, err
	}
	scored, parts := scorer.ScoreDay(records)

	out := make([]Ranked, len(scored))
	for i, rec := range scored {
		out[i] = Ranked{
			ID:        rec.ID,
			Title:     rec.Title,
			Position:  i,
			Stored:    records[i].EngagementScore,
			Fresh:     rec.EngagementScore,
			Breakdown: parts[i],
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Fresh > out[j].Fresh })
	return out, nil
}

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// SightingRecorder is the part of the store an index rebuild writes to.
type SightingRecorder interface {
	RecordSightings(ctx context.Context, sightings []story.Sighting) error
}

// RebuildIndex replays every published day, oldest first, into the sighting
// index. Sightings keep the earliest day, so replaying over an existing
// index is safe. It returns the number of records replayed.
// Days whose file does not decode are skipped with a warning.
func RebuildIndex(ctx context.Context, dir string, index SightingRecorder, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := dataset.NewCatalog(dir).List()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		records, err := dataset.Read(e.Path)
		if errors.Is(err, internalerr.ErrInvalidInput) {
			logger.Warn("Skipping undecodable dataset file", "day", e.Day, "path", e.Path, "error", err)
			continue
		}
		if err != nil {
			return total, fmt.Errorf("rebuild index: %w", err)
		}
		sightings := make([]story.Sighting, 0, len(records))
		for _, rec := range records {
			sightings = append(sightings, story.Sighting{ID: rec.ID, Day: e.Day, Title: rec.Title, ImageURL: rec.ImageURL})
		}
		if err := index.RecordSightings(ctx, sightings); err != nil {
			return total, fmt.Errorf("rebuild index %s: %w", e.Day, err)
		}
		total += len(records)
	}
	return total, nil
}

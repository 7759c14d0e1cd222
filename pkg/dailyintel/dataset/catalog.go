package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// Entry is one published day.
type Entry struct {
	Day  string
	Date time.Time
	Path string
}

// Catalog lists the dataset files of a directory.
type Catalog struct {
	dir string
}

// NewCatalog creates a catalog over dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Path returns the file path for day.
func (c *Catalog) Path(day string) string {
	return filepath.Join(c.dir, FileName(day))
}

// List returns published days, oldest first. A missing directory is empty.
func (c *Catalog) List() ([]Entry, error) {
	des, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	var out []Entry
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		day, ok := DayFromFile(de.Name())
		if !ok {
			continue
		}
		date, _ := story.ParseDay(day)
		out = append(out, Entry{Day: day, Date: date, Path: filepath.Join(c.dir, de.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// DirIndex finds earlier sightings of story ids by reading published files.
// It serves as the dedup index when no store is configured.
type DirIndex struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewDirIndex creates an index over the dataset files in dir.
func NewDirIndex(dir string, logger *slog.Logger) *DirIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirIndex{catalog: NewCatalog(dir), logger: logger.With("component", "dataset")}
}

// Lookup returns, for each known id, the earliest day it was published.
// Files that do not decode are skipped with a warning; the audit reports
// them.
func (x *DirIndex) Lookup(ctx context.Context, ids []string) (map[string]story.Sighting, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	entries, err := x.catalog.List()
	if err != nil {
		return nil, err
	}

	found := make(map[string]story.Sighting)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(found) == len(want) {
			break
		}
		records, err := Read(e.Path)
		if errors.Is(err, internalerr.ErrInvalidInput) {
			x.logger.Warn("Skipping undecodable dataset file", "path", e.Path, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if _, ok := want[rec.ID]; !ok {
				continue
			}
			if _, seen := found[rec.ID]; seen {
				continue
			}
			found[rec.ID] = story.Sighting{ID: rec.ID, Day: e.Day, Title: rec.Title, ImageURL: rec.ImageURL}
		}
	}
	return found, nil
}

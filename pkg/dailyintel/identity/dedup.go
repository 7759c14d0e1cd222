package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// Index looks up where story ids were first published.
type Index interface {
	Lookup(ctx context.Context, ids []string) (map[string]story.Sighting, error)
}

// Policy decides what happens to a story already published on an earlier day.
type Policy string

const (
	// PolicyFlag keeps the story and marks it duplicate=true, first_seen=<day>.
	PolicyFlag Policy = "flag"
	// PolicyLink keeps the story with duplicate_of=<day>.json#<id> and reuses
	// the earlier image.
	PolicyLink Policy = "link"
	// PolicyDrop leaves the story out of the day's file.
	PolicyDrop Policy = "drop"
)

// ParsePolicy validates a policy name. The empty string means PolicyFlag.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyFlag, nil
	case PolicyFlag, PolicyLink, PolicyDrop:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown dedup policy %q (want flag, link or drop)", internalerr.ErrInvalidConfig, s)
}

// Duplicate reports one repeated story.
type Duplicate struct {
	ID        string
	Title     string
	Position  int
	FirstSeen string // day of the earlier publication
	WithinDay bool   // repeated inside the same document
	Dropped   bool   // left out of the day's file
}

// Detected converts d into the error taxonomy value.
func (d Duplicate) Detected(policy Policy) internalerr.DuplicateDetected {
	return internalerr.DuplicateDetected{ID: d.ID, FirstSeen: d.FirstSeen, Policy: string(policy)}
}

// Outcome is the deduplicated day.
type Outcome struct {
	Records    []story.Record
	Duplicates []Duplicate
}

// Prior counts duplicates of earlier days.
func (o Outcome) Prior() int {
	n := 0
	for _, d := range o.Duplicates {
		if !d.WithinDay {
			n++
		}
	}
	return n
}

// Deduper assigns ids and applies the dedup policy.
type Deduper struct {
	index  Index
	policy Policy
	logger *slog.Logger
}

// NewDeduper creates a deduper. A nil index disables cross-day detection.
func NewDeduper(index Index, policy Policy, logger *slog.Logger) *Deduper {
	if policy == "" {
		policy = PolicyFlag
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduper{index: index, policy: policy, logger: logger.With("component", "dedup")}
}

// Policy returns the configured policy.
func (d *Deduper) Policy() Policy { return d.policy }

// Apply assigns ids to drafts for day and resolves repeats. Repeats within the
// day always collapse to the first occurrence. Stories first seen on an
// earlier day are handled per policy; sightings on the same or a later day
// are not duplicates (re-runs and backfills).
func (d *Deduper) Apply(ctx context.Context, day string, drafts []story.Record) (Outcome, error) {
	var out Outcome
	seen := make(map[string]struct{}, len(drafts))
	unique := make([]story.Record, 0, len(drafts))

	for i, rec := range drafts {
		rec = rec.Clone()
		if rec.ID == "" {
			rec.ID = ID(rec.RawText)
		}
		if _, dup := seen[rec.ID]; dup {
			out.Duplicates = append(out.Duplicates, Duplicate{
				ID: rec.ID, Title: rec.Title, Position: position(rec, i),
				FirstSeen: day, WithinDay: true, Dropped: true,
			})
			continue
		}
		seen[rec.ID] = struct{}{}
		unique = append(unique, rec)
	}

	prior := map[string]story.Sighting{}
	if d.index != nil && len(unique) > 0 {
		ids := make([]string, len(unique))
		for i, rec := range unique {
			ids[i] = rec.ID
		}
		found, err := d.index.Lookup(ctx, ids)
		if err != nil {
			return Outcome{}, fmt.Errorf("dedup lookup: %w", err)
		}
		for id, s := range found {
			if story.DayBefore(s.Day, day) {
				prior[id] = s
			}
		}
	}

	for i, rec := range unique {
		s, ok := prior[rec.ID]
		if !ok {
			out.Records = append(out.Records, rec)
			continue
		}

		dup := Duplicate{ID: rec.ID, Title: rec.Title, Position: position(rec, i), FirstSeen: s.Day}
		switch d.policy {
		case PolicyDrop:
			dup.Dropped = true
		case PolicyLink:
			rec.SetMeta(story.MetaDuplicateOf, fmt.Sprintf("%s.json#%s", s.Day, rec.ID))
			if rec.ImageURL == "" && s.ImageURL != "" {
				rec.ImageURL = s.ImageURL
			}
			out.Records = append(out.Records, rec)
		default:
			rec.SetMeta(story.MetaDuplicate, true)
			rec.SetMeta(story.MetaFirstSeen, s.Day)
			out.Records = append(out.Records, rec)
		}
		out.Duplicates = append(out.Duplicates, dup)
		d.logger.Info("Duplicate story", "id", rec.ID, "firstSeen", s.Day, "policy", d.policy)
	}
	return out, nil
}

func position(rec story.Record, fallback int) int {
	if p, ok := rec.MetaInt(story.MetaPosition); ok {
		return p
	}
	return fallback
}

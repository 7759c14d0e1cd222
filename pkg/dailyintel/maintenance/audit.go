// Package maintenance checks and re-derives published datasets without
// changing the immutable parts of any record.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/identity"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// AssetChecker reports whether an image_url resolves to a file.
type AssetChecker interface {
	Exists(rel string) bool
}

// Finding kinds.
const (
	FindingInvalidFile    = "invalid_file"    // unreadable or ids repeated within the file
	FindingHashMismatch   = "hash_mismatch"   // id is not the hash of raw_text
	FindingUnmarkedRepost = "unmarked_repost" // id published earlier but not flagged as duplicate
	FindingNoImage        = "no_image"
	FindingDanglingImage  = "dangling_image" // image_url set, file missing
)

// Finding is one problem found by an audit.
type Finding struct {
	Kind   string
	Day    string
	ID     string
	Detail string
}

// AuditReport summarises an audit of all published days.
type AuditReport struct {
	Days     int
	Records  int
	Findings []Finding
}

// Count returns the number of findings of kind.
func (r AuditReport) Count(kind string) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Auditor verifies the dataset directory.
type Auditor struct {
	catalog *dataset.Catalog
	assets  AssetChecker
	logger  *slog.Logger
}

// NewAuditor creates an auditor. A nil asset checker skips image checks.
func NewAuditor(dir string, assets AssetChecker, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{catalog: dataset.NewCatalog(dir), assets: assets, logger: logger.With("component", "audit")}
}

// Audit reads every dataset file oldest first. It reports problems rather
// than repairing them: ids and raw_text are never rewritten.
func (a *Auditor) Audit(ctx context.Context) (AuditReport, error) {
	entries, err := a.catalog.List()
	if err != nil {
		return AuditReport{}, err
	}

	var rep AuditReport
	firstSeen := make(map[string]string)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Days++

		records, err := dataset.Read(e.Path)
		if err == nil {
			err = dataset.Check(records)
		}
		if err != nil {
			rep.Findings = append(rep.Findings, Finding{Kind: FindingInvalidFile, Day: e.Day, Detail: err.Error()})
			if records == nil {
				continue
			}
		}

		for _, rec := range records {
			rep.Records++
			rep.Findings = append(rep.Findings, a.check(e.Day, rec, firstSeen)...)
		}
		for _, rec := range records {
			if _, ok := firstSeen[rec.ID]; !ok {
				firstSeen[rec.ID] = e.Day
			}
		}
	}

	a.logger.Info("Audit finished", "days", rep.Days, "records", rep.Records, "findings", len(rep.Findings))
	return rep, nil
}

func (a *Auditor) check(day string, rec story.Record, firstSeen map[string]string) []Finding {
	var out []Finding
	if want := identity.ID(rec.RawText); rec.ID != want {
		out = append(out, Finding{Kind: FindingHashMismatch, Day: day, ID: rec.ID, Detail: "raw_text hashes to " + want})
	}
	if earlier, ok := firstSeen[rec.ID]; ok {
		_, linked := rec.MetaString(story.MetaDuplicateOf)
		if !rec.MetaBool(story.MetaDuplicate) && !linked {
			out = append(out, Finding{Kind: FindingUnmarkedRepost, Day: day, ID: rec.ID, Detail: fmt.Sprintf("first published %s", earlier)})
		}
	}
	if a.assets != nil {
		switch {
		case rec.ImageURL == "":
			out = append(out, Finding{Kind: FindingNoImage, Day: day, ID: rec.ID})
		case !a.assets.Exists(rec.ImageURL):
			out = append(out, Finding{Kind: FindingDanglingImage, Day: day, ID: rec.ID, Detail: rec.ImageURL})
		}
	}
	return out
}

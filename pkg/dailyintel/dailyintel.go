// Package dailyintel runs the daily ingestion pipeline: extract the source
// document, structure it into stories, assign content ids, dedup against
// earlier days, score, and publish the day's dataset file.
package dailyintel

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/extract"
	"github.com/cognicore/dailyintel/pkg/dailyintel/identity"
	"github.com/cognicore/dailyintel/pkg/dailyintel/ingest"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/metrics"
	"github.com/cognicore/dailyintel/pkg/dailyintel/rank"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// Index is the sighting index the pipeline reads for dedup and appends to
// after publishing. store.Store satisfies it.
type Index interface {
	identity.Index
	RecordSightings(ctx context.Context, sightings []story.Sighting) error
}

// Engine is the pipeline facade
type Engine struct {
	recorder   Index
	closer     func() error
	registry   *extract.Registry
	structurer *ingest.Structurer
	deduper    *identity.Deduper
	scorer     *rank.Scorer
	writer     *dataset.Writer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Options configures an Engine. Writer is required; the rest default.
type Options struct {
	// Index is used for dedup and receives the sightings of each published
	// day. When it only implements identity.Index (for example a
	// dataset.DirIndex) nothing is recorded.
	Index      identity.Index
	Registry   *extract.Registry
	Structurer *ingest.Structurer
	Policy     identity.Policy
	Scorer     *rank.Scorer
	Writer     *dataset.Writer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// New creates an Engine with the given dependencies
func New(opts Options) (*Engine, error) {
	if opts.Writer == nil {
		return nil, fmt.Errorf("%w: dataset writer is required", internalerr.ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		registry:   opts.Registry,
		structurer: opts.Structurer,
		scorer:     opts.Scorer,
		writer:     opts.Writer,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "pipeline"),
		now:        opts.Now,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
	if opts.Policy == "" {
		opts.Policy = identity.PolicyFlag
	}
	if e.registry == nil {
		e.registry = extract.NewRegistry(logger)
	}
	if e.structurer == nil {
		e.structurer = ingest.NewStructurer(nil, ingest.Options{}, logger)
	}
	if e.scorer == nil {
		e.scorer = rank.NewScorer(rank.DefaultWeights(), rank.DefaultCategoryBoosts())
	}
	if e.now == nil {
		e.now = time.Now
	}
	if rec, ok := opts.Index.(Index); ok {
		e.recorder = rec
	}
	if c, ok := opts.Index.(interface{ Close() error }); ok {
		e.closer = c.Close
	}
	e.deduper = identity.NewDeduper(opts.Index, opts.Policy, logger)
	return e, nil
}

// Close releases the index
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer()
}

// Writer returns the dataset writer.
func (e *Engine) Writer() *dataset.Writer { return e.writer }

// IngestRequest names one source document to publish.
type IngestRequest struct {
	Path  string
	Day   string // DD_MM_YY; derived from Path when empty
	Force bool   // replace an already published day
}

// IngestResult summarizes a published day.
type IngestResult struct {
	Day        string
	RunID      string
	Output     string
	Stories    int
	Duplicates []identity.Duplicate
	Warnings   []internalerr.SegmentationWarning
	Records    []story.Record
}

// Flagged counts duplicates of earlier days that were kept in the file.
func (r IngestResult) Flagged() int {
	n := 0
	for _, d := range r.Duplicates {
		if !d.WithinDay && !d.Dropped {
			n++
		}
	}
	return n
}

// Ingest processes one source document into the day's dataset file. Any
// error leaves the dataset directory as it was: either the previous file
// or no file for the day.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	day := req.Day
	if day == "" {
		d, ok := DayFromSource(req.Path)
		if !ok {
			return IngestResult{}, fmt.Errorf("%w: cannot derive day from %q, pass it explicitly", internalerr.ErrInvalidInput, filepath.Base(req.Path))
		}
		day = d
	}
	date, err := story.ParseDay(day)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}

	res := IngestResult{Day: day, RunID: e.newRunID()}
	log := e.logger.With("day", day, "run", res.RunID)

	// Fail before the expensive stages when the day is already out.
	if !req.Force {
		exists, err := e.writer.Exists(day)
		if err != nil {
			return res, err
		}
		if exists {
			return res, &internalerr.WriteConflict{Path: e.writer.Path(day)}
		}
	}

	start := time.Now()
	doc, err := e.registry.Extract(ctx, req.Path)
	if err != nil {
		return res, err
	}
	e.stage("extract", start)
	if n := len(doc.FailedPages); n > 0 {
		log.Warn("Pages failed to extract", "pages", doc.FailedPages, "of", doc.PageCount)
		if e.metrics != nil {
			e.metrics.FailedPages.Add(float64(n))
		}
	}

	start = time.Now()
	structured := e.structurer.Structure(doc)
	res.Warnings = structured.Warnings
	for _, w := range structured.Warnings {
		log.Warn("Segmentation warning", "page", w.Page, "reason", w.Reason)
	}
	if e.metrics != nil {
		e.metrics.SegmentWarnings.Add(float64(len(structured.Warnings)))
	}
	e.stage("structure", start)
	if len(structured.Drafts) == 0 {
		return res, fmt.Errorf("%w: no stories found in %s", internalerr.ErrInvalidInput, req.Path)
	}

	start = time.Now()
	outcome, err := e.deduper.Apply(ctx, day, structured.Drafts)
	if err != nil {
		return res, err
	}
	res.Duplicates = outcome.Duplicates
	e.stage("dedup", start)

	start = time.Now()
	records, _ := e.scorer.ScoreDay(outcome.Records)
	e.stage("score", start)

	ingestedAt := e.now().UTC().Format(time.RFC3339)
	for i := range records {
		records[i].SetMeta(story.MetaSourceDate, date.Format(time.DateOnly))
		records[i].SetMeta(story.MetaSourceFile, filepath.Base(req.Path))
		records[i].SetMeta(story.MetaIngestedAt, ingestedAt)
		records[i].SetMeta(story.MetaRunID, res.RunID)
		records[i].SetMeta(story.MetaStoryCount, len(records))
	}

	start = time.Now()
	out, err := e.writer.Write(ctx, day, records, dataset.WriteOptions{Force: req.Force})
	if err != nil {
		return res, err
	}
	e.stage("write", start)
	res.Output = out
	res.Stories = len(records)
	res.Records = records

	if e.recorder != nil {
		sightings := make([]story.Sighting, len(records))
		for i, rec := range records {
			sightings[i] = story.Sighting{ID: rec.ID, Day: day, Title: rec.Title, ImageURL: rec.ImageURL}
		}
		// The file is already published; a rebuild from the files repairs
		// the index, so this is reported but not fatal.
		if err := e.recorder.RecordSightings(ctx, sightings); err != nil {
			log.Error("Failed to record sightings", "error", err)
		}
	}

	e.count(res)
	log.Info("Day published", "output", out, "stories", res.Stories, "duplicates", len(res.Duplicates), "warnings", len(res.Warnings))
	return res, nil
}

func (e *Engine) newRunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(e.now()), e.entropy).String()
}

func (e *Engine) stage(name string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveStage(name, time.Since(start))
	}
}

func (e *Engine) count(res IngestResult) {
	if e.metrics == nil {
		return
	}
	flagged := res.Flagged()
	e.metrics.Stories.WithLabelValues("new").Add(float64(res.Stories - flagged))
	e.metrics.Stories.WithLabelValues("repost").Add(float64(flagged))
	dropped := 0
	for _, d := range res.Duplicates {
		if d.Dropped {
			dropped++
		}
	}
	e.metrics.Stories.WithLabelValues("dropped").Add(float64(dropped))
}

var (
	dayNameRe = regexp.MustCompile(`(\d{2})_(\d{2})_(\d{2})`)
	isoDateRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

// DayFromSource derives the day from a source file name such as
// "21_11_25.pdf" or "brief-2025-11-21.html".
func DayFromSource(path string) (string, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if m := dayNameRe.FindString(name); m != "" {
		if _, err := story.ParseDay(m); err == nil {
			return m, true
		}
	}
	if m := isoDateRe.FindString(name); m != "" {
		if t, err := time.Parse(time.DateOnly, m); err == nil {
			return story.FormatDay(t), true
		}
	}
	return "", false
}

// IsConflict reports whether err is a WriteConflict.
func IsConflict(err error) bool {
	var wc *internalerr.WriteConflict
	return errors.As(err, &wc)
}

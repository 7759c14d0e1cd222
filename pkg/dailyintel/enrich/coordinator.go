// Package enrich attaches generated images to published records. It is an
// idempotent overlay pass: it only ever sets image_url and image_prompt, and a
// failed record stays without an image so the next run retries it.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

// State is the enrichment state of one record.
type State string

const (
	NoImage   State = "NoImage"
	Requested State = "Requested"
	Attached  State = "Attached"
	Failed    State = "Failed" // retryable on the next run
)

// ExternalAgentPrompt is recorded for images that were placed on disk by an
// external agent rather than generated by this pass.
const ExternalAgentPrompt = "Generated via external agent"

// Ledger receives per-record state transitions. store.Store satisfies it.
type Ledger interface {
	UpsertEnrichment(ctx context.Context, e store.Enrichment) error
	SetImage(ctx context.Context, id, day, imageURL string) error
}

// Observer is told about each finished record.
type Observer interface {
	ObserveEnrichment(state string, attempts int, elapsed time.Duration)
}

// Options configures a Coordinator.
type Options struct {
	Workers      int           // concurrent generation requests
	Attempts     int           // attempts per record
	Timeout      time.Duration // per attempt
	Backoff      time.Duration // wait after the first failure, doubled each time
	MaxBackoff   time.Duration
	VerifyAssets bool // treat an image_url whose file is missing as no image
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Workers:    4,
		Attempts:   5,
		Timeout:    30 * time.Second,
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	return o
}

// Asset is a stored image ready to attach.
type Asset struct {
	Path     string // relative image_url
	Prompt   string
	Attempts int
}

// Failure is a record the pass could not enrich.
type Failure struct {
	ID       string
	Attempts int
	Err      error
}

// Report summarises one pass over a dataset file.
type Report struct {
	Day      string
	Path     string
	Records  int
	Missing  int
	Attached []string
	Failed   []Failure
}

// Coordinator runs the enrichment pass.
type Coordinator struct {
	gen      Generator
	prompts  PromptWriter
	assets   AssetStore
	writer   *dataset.Writer
	ledger   Ledger
	observer Observer
	opts     Options
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
}

// Config gathers a Coordinator's collaborators. Generator, Assets and Writer
// are required; everything else is optional.
type Config struct {
	Generator Generator
	Prompts   []PromptWriter // tried in order, the template is the last resort
	Assets    AssetStore
	Writer    *dataset.Writer
	Ledger    Ledger
	Observer  Observer
	Options   Options
	Logger    *slog.Logger
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Generator == nil || cfg.Assets == nil || cfg.Writer == nil {
		return nil, fmt.Errorf("%w: enrich needs a generator, an asset store and a writer", internalerr.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.Options.withDefaults()
	return &Coordinator{
		gen:      cfg.Generator,
		prompts:  fallbackPrompts{writers: cfg.Prompts, timeout: opts.Timeout},
		assets:   cfg.Assets,
		writer:   cfg.Writer,
		ledger:   cfg.Ledger,
		observer: cfg.Observer,
		opts:     opts,
		logger:   logger.With("component", "enrich"),
		locks:    make(map[string]*sync.Mutex),
		sleep:    sleepCtx,
	}, nil
}

// Attach returns rec with image_url and image_prompt set. Every other field,
// raw_text included, is carried over unchanged, so attaching the same asset
// twice yields the same record.
func Attach(rec story.Record, assetPath, prompt string) story.Record {
	out := rec.Clone()
	out.ImageURL = assetPath
	out.ImagePrompt = prompt
	return out
}

// StateOf returns the state a record is in as far as the file shows.
func (c *Coordinator) StateOf(rec story.Record) State {
	if c.needsImage(rec) {
		return NoImage
	}
	return Attached
}

func (c *Coordinator) needsImage(rec story.Record) bool {
	if rec.ImageURL == "" {
		return true
	}
	return c.opts.VerifyAssets && !c.assets.Exists(rec.ImageURL)
}

// Scan returns the records of a dataset file that still need an image.
func (c *Coordinator) Scan(path string) ([]story.Record, error) {
	records, err := dataset.Read(path)
	if err != nil {
		return nil, err
	}
	return c.ScanRecords(records), nil
}

// ScanRecords filters records that still need an image, in file order.
func (c *Coordinator) ScanRecords(records []story.Record) []story.Record {
	var out []story.Record
	for _, rec := range records {
		if c.needsImage(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Request generates and stores an image for rec. Each attempt gets its own
// timeout; failures back off exponentially. When attempts run out the error
// is an *internalerr.EnrichmentFailure.
func (c *Coordinator) Request(ctx context.Context, day string, rec story.Record) (Asset, error) {
	prompt, err := c.prompts.WritePrompt(ctx, rec)
	if err != nil {
		return Asset{}, &internalerr.EnrichmentFailure{RecordID: rec.ID, Err: fmt.Errorf("prompt: %w", err)}
	}

	var lastErr error
	wait := c.opts.Backoff
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		img, err := c.generate(ctx, prompt, rec.ID)
		if err == nil {
			rel, err := c.assets.Save(ctx, day, rec.ID, img)
			if err == nil {
				used := prompt
				if img.Prompt != "" {
					used = img.Prompt
				}
				return Asset{Path: rel, Prompt: used, Attempts: attempt}, nil
			}
			lastErr = fmt.Errorf("save image: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil || IsPermanent(lastErr) {
			return Asset{}, &internalerr.EnrichmentFailure{RecordID: rec.ID, Attempts: attempt, Err: lastErr}
		}
		if attempt == c.opts.Attempts {
			break
		}

		c.logger.Debug("Generation attempt failed", "id", rec.ID, "attempt", attempt, "retryIn", wait, "error", lastErr)
		if err := c.sleep(ctx, wait); err != nil {
			return Asset{}, &internalerr.EnrichmentFailure{RecordID: rec.ID, Attempts: attempt, Err: err}
		}
		wait *= 2
		if wait > c.opts.MaxBackoff {
			wait = c.opts.MaxBackoff
		}
	}
	return Asset{}, &internalerr.EnrichmentFailure{RecordID: rec.ID, Attempts: c.opts.Attempts, Err: lastErr}
}

func (c *Coordinator) generate(ctx context.Context, prompt, seed string) (Image, error) {
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.gen.Generate(actx, prompt, seed)
}

type result struct {
	asset Asset
	err   error
}

// Run enriches every record of the dataset file at path that lacks an image.
// Requests run on a bounded pool; results are collected and written back in a
// single batched rewrite. Per-record failures are reported, never returned.
func (c *Coordinator) Run(ctx context.Context, path string) (Report, error) {
	day, ok := dataset.DayFromFile(path)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s is not a dataset file", internalerr.ErrInvalidInput, path)
	}
	records, err := dataset.Read(path)
	if err != nil {
		return Report{}, err
	}

	missing := c.ScanRecords(records)
	rep := Report{Day: day, Path: path, Records: len(records), Missing: len(missing)}
	logCtx := c.logger.With("day", day)
	if len(missing) == 0 {
		logCtx.Info("Nothing to enrich", "records", len(records))
		return rep, nil
	}
	logCtx.Info("Enrichment started", "records", len(records), "missing", len(missing), "workers", c.opts.Workers)

	var (
		mu      sync.Mutex
		results = make(map[string]result, len(missing))
		g       errgroup.Group
	)
	g.SetLimit(c.opts.Workers)
	for _, rec := range missing {
		if ctx.Err() != nil {
			break
		}
		rec := rec
		g.Go(func() error {
			started := time.Now()
			c.track(ctx, store.Enrichment{ID: rec.ID, Day: day, State: string(Requested)})

			asset, err := c.Request(ctx, day, rec)

			mu.Lock()
			results[rec.ID] = result{asset: asset, err: err}
			mu.Unlock()

			state, attempts := Attached, asset.Attempts
			if err != nil {
				state = Failed
				var ef *internalerr.EnrichmentFailure
				if errors.As(err, &ef) {
					attempts = ef.Attempts
				}
			}
			if c.observer != nil {
				c.observer.ObserveEnrichment(string(state), attempts, time.Since(started))
			}
			return nil
		})
	}
	g.Wait()

	// Finished work is written even when the run was cancelled.
	wctx := context.WithoutCancel(ctx)
	attached, err := c.writeBack(wctx, path, results)
	if err != nil {
		return rep, err
	}
	rep.Attached = attached

	for _, rec := range missing {
		res, ok := results[rec.ID]
		switch {
		case !ok:
			rep.Failed = append(rep.Failed, Failure{ID: rec.ID, Err: ctx.Err()})
		case res.err != nil:
			f := Failure{ID: rec.ID, Err: res.err}
			var ef *internalerr.EnrichmentFailure
			if errors.As(res.err, &ef) {
				f.Attempts = ef.Attempts
			}
			rep.Failed = append(rep.Failed, f)
			logCtx.Warn("Enrichment failed, record left without image", "id", rec.ID, "attempts", f.Attempts, "error", res.err)
			c.track(wctx, store.Enrichment{ID: rec.ID, Day: day, State: string(Failed), Attempts: f.Attempts, LastError: res.err.Error()})
		}
	}

	logCtx.Info("Enrichment finished", "attached", len(rep.Attached), "failed", len(rep.Failed))
	return rep, ctx.Err()
}

// writeBack re-reads the file under the per-file lock and attaches every
// successful result to records that still need it, then rewrites the file
// once.
func (c *Coordinator) writeBack(ctx context.Context, path string, results map[string]result) ([]string, error) {
	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	day, _ := dataset.DayFromFile(path)
	current, err := dataset.Read(path)
	if err != nil {
		return nil, err
	}

	var attached []string
	for i, rec := range current {
		res, ok := results[rec.ID]
		if !ok || res.err != nil || !c.needsImage(rec) {
			continue
		}
		current[i] = Attach(rec, res.asset.Path, res.asset.Prompt)
		attached = append(attached, rec.ID)
	}
	if len(attached) == 0 {
		return nil, nil
	}
	if err := c.writer.Replace(ctx, path, current); err != nil {
		return nil, fmt.Errorf("write back: %w", err)
	}

	for _, id := range attached {
		res := results[id]
		c.track(ctx, store.Enrichment{ID: id, Day: day, State: string(Attached), Attempts: res.asset.Attempts, ImageURL: res.asset.Path})
		if c.ledger != nil {
			if err := c.ledger.SetImage(ctx, id, day, res.asset.Path); err != nil {
				c.logger.Warn("Could not record image in index", "id", id, "error", err)
			}
		}
	}
	return attached, nil
}

// Reconcile attaches images that already exist on disk at
// images/<day>/<id>.<ext> to records lacking one, without generating anything.
func (c *Coordinator) Reconcile(ctx context.Context, path string) (Report, error) {
	day, ok := dataset.DayFromFile(path)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s is not a dataset file", internalerr.ErrInvalidInput, path)
	}

	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	records, err := dataset.Read(path)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Day: day, Path: path, Records: len(records)}

	for i, rec := range records {
		if !c.needsImage(rec) {
			continue
		}
		rep.Missing++
		rel, found := c.assets.Find(day, rec.ID)
		if !found {
			continue
		}
		prompt := rec.ImagePrompt
		if prompt == "" {
			prompt = ExternalAgentPrompt
		}
		records[i] = Attach(rec, rel, prompt)
		rep.Attached = append(rep.Attached, rec.ID)
	}
	if len(rep.Attached) == 0 {
		return rep, nil
	}
	if err := c.writer.Replace(ctx, path, records); err != nil {
		return rep, err
	}
	for _, id := range rep.Attached {
		rel, _ := c.assets.Find(day, id)
		c.track(ctx, store.Enrichment{ID: id, Day: day, State: string(Attached), ImageURL: rel})
		if c.ledger != nil {
			if err := c.ledger.SetImage(ctx, id, day, rel); err != nil {
				c.logger.Warn("Could not record image in index", "id", id, "error", err)
			}
		}
	}
	c.logger.Info("Reconciled existing images", "day", day, "attached", len(rep.Attached), "missing", rep.Missing)
	return rep, nil
}

func (c *Coordinator) track(ctx context.Context, e store.Enrichment) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.UpsertEnrichment(ctx, e); err != nil {
		c.logger.Warn("Could not record enrichment state", "id", e.ID, "state", e.State, "error", err)
	}
}

func (c *Coordinator) lockFor(path string) *sync.Mutex {
	key := filepath.Clean(path)
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// permanentError marks a generator error that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Request stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

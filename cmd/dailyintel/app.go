package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"

	"github.com/cognicore/dailyintel/internal/imagegen"
	"github.com/cognicore/dailyintel/internal/llm"
	"github.com/cognicore/dailyintel/internal/logging"
	"github.com/cognicore/dailyintel/internal/vertex"
	"github.com/cognicore/dailyintel/pkg/dailyintel"
	"github.com/cognicore/dailyintel/pkg/dailyintel/config"
	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/enrich"
	"github.com/cognicore/dailyintel/pkg/dailyintel/extract"
	"github.com/cognicore/dailyintel/pkg/dailyintel/identity"
	"github.com/cognicore/dailyintel/pkg/dailyintel/ingest"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/metrics"
	"github.com/cognicore/dailyintel/pkg/dailyintel/mirror"
	"github.com/cognicore/dailyintel/pkg/dailyintel/rank"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store/memstore"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store/sqlite"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath      string
	logLevel        string
	metricsTextfile string
}

// app holds what one command invocation needs: settings, logger, metrics and
// lazily opened resources.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	out     io.Writer

	store   store.Store
	closers []func() error
}

func newApp(flags *globalFlags, out, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.metricsTextfile != "" {
		cfg.Metrics.Textfile = flags.metricsTextfile
	}

	logger := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
	return &app{cfg: cfg, logger: logger, metrics: metrics.New(), out: out}, nil
}

// close releases resources in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", "error", err)
		}
	}
	a.closers = nil
}

// finish records a successful command and writes the metrics textfile.
func (a *app) finish(command string) {
	a.metrics.Succeeded(command, time.Now())
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("Failed to write metrics textfile", "path", a.cfg.Metrics.Textfile, "error", err)
	}
}

func (a *app) writer() *dataset.Writer {
	return dataset.NewWriter(a.cfg.DatasetDir, a.logger)
}

func (a *app) storePath() string {
	if filepath.IsAbs(a.cfg.Store.Path) {
		return a.cfg.Store.Path
	}
	return filepath.Join(a.cfg.DatasetDir, a.cfg.Store.Path)
}

// openStore opens the configured store. The files driver has none and
// returns nil.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	switch a.cfg.Store.Driver {
	case config.StoreFiles:
		return nil, nil
	case config.StoreMemory:
		a.store = memstore.New()
	default:
		if err := os.MkdirAll(filepath.Dir(a.storePath()), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		st, err := sqlite.OpenSQLite(ctx, a.storePath())
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	a.closers = append(a.closers, a.store.Close)
	return a.store, nil
}

func (a *app) scorer() *rank.Scorer {
	return rank.NewScorer(a.cfg.Rank.Weights, a.cfg.Rank.Boosts())
}

// engine wires the ingestion pipeline.
func (a *app) engine(ctx context.Context) (*dailyintel.Engine, error) {
	comp, err := config.NewLoader(a.cfg.Ingest).Load()
	if err != nil {
		return nil, err
	}
	policy, err := identity.ParsePolicy(a.cfg.Ingest.DedupPolicy)
	if err != nil {
		return nil, err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	var index identity.Index = dataset.NewDirIndex(a.cfg.DatasetDir, a.logger)
	if st != nil {
		index = st
	}

	return dailyintel.New(dailyintel.Options{
		Index:    index,
		Registry: extract.NewRegistry(a.logger),
		Structurer: ingest.NewStructurer(comp.Classifier, ingest.Options{
			MaxStoryChars:   a.cfg.Ingest.MaxStoryChars,
			MaxSummaryChars: a.cfg.Ingest.MaxSummaryChars,
		}, a.logger),
		Policy:  policy,
		Scorer:  a.scorer(),
		Writer:  a.writer(),
		Metrics: a.metrics,
		Logger:  a.logger,
	})
}

// prompters returns the configured prompt writer chain. The template is
// appended by the coordinator.
func (a *app) prompters(ctx context.Context) ([]enrich.PromptWriter, error) {
	ec := a.cfg.Enrich
	switch ec.Prompter {
	case config.PrompterChat:
		if ec.Chat.APIKey == "" {
			return nil, fmt.Errorf("%w: chat prompter needs an API key (%s)", internalerr.ErrInvalidConfig, config.ChatAPIKeyEnv)
		}
		return []enrich.PromptWriter{&llm.Client{BaseURL: ec.Chat.BaseURL, APIKey: ec.Chat.APIKey, Model: ec.Chat.Model}}, nil
	case config.PrompterVertex:
		if ec.Vertex.Project == "" {
			return nil, fmt.Errorf("%w: vertex prompter needs a project (%s)", internalerr.ErrInvalidConfig, config.GoogleProjectEnv)
		}
		w, err := vertex.NewPromptWriter(ctx, ec.Vertex.Project, ec.Vertex.Location, ec.Vertex.Model)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, w.Close)
		return []enrich.PromptWriter{w}, nil
	case config.PrompterText:
		return []enrich.PromptWriter{&imagegen.TextPromptWriter{Endpoint: ec.Image.TextEndpoint}}, nil
	default:
		return nil, nil
	}
}

// coordinator wires the enrichment pass. Without a store the ledger is off.
func (a *app) coordinator(ctx context.Context) (*enrich.Coordinator, error) {
	prompts, err := a.prompters(ctx)
	if err != nil {
		return nil, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	ec := a.cfg.Enrich
	cfg := enrich.Config{
		Generator: &imagegen.HTTPGenerator{
			Endpoint: ec.Image.Endpoint,
			Width:    ec.Image.Width,
			Height:   ec.Image.Height,
			Model:    ec.Image.Model,
		},
		Prompts:  prompts,
		Assets:   enrich.NewLocalAssets(a.cfg.DatasetDir),
		Writer:   a.writer(),
		Observer: a.metrics,
		Options:  ec.Options(),
		Logger:   a.logger,
	}
	if st != nil {
		cfg.Ledger = st
	}
	return enrich.New(cfg)
}

// enrichmentStates returns the ledger entries of day by record id. Without a
// store there are none.
func (a *app) enrichmentStates(ctx context.Context, day string) (map[string]store.Enrichment, error) {
	st, err := a.openStore(ctx)
	if err != nil || st == nil {
		return nil, err
	}
	entries, err := st.ListEnrichment(ctx, day)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Enrichment, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out, nil
}

// mirror connects to the configured bucket.
func (a *app) mirror(ctx context.Context) (*mirror.Mirror, error) {
	if a.cfg.Mirror.Bucket == "" {
		return nil, fmt.Errorf("%w: mirror.bucket is not set (%s)", internalerr.ErrInvalidConfig, config.MirrorBucketEnv)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return mirror.New(mirror.NewGCSBucket(client, a.cfg.Mirror.Bucket), a.cfg.DatasetDir, a.cfg.Mirror.Prefix, a.logger), nil
}

// dayArg accepts a day either as DD_MM_YY or as a path to its dataset file.
func dayArg(arg string) string {
	if d, ok := dataset.DayFromFile(arg); ok {
		return d
	}
	return arg
}

// dayPath resolves a day argument to its dataset file.
func (a *app) dayPath(arg string) (string, error) {
	day := dayArg(arg)
	w := a.writer()
	exists, err := w.Exists(day)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: no dataset file for %s in %s", internalerr.ErrNotFound, day, a.cfg.DatasetDir)
	}
	return w.Path(day), nil
}

// allDays lists every published day, oldest first.
func (a *app) allDays() ([]string, error) {
	entries, err := dataset.NewCatalog(a.cfg.DatasetDir).List()
	if err != nil {
		return nil, err
	}
	days := make([]string, len(entries))
	for i, e := range entries {
		days[i] = e.Day
	}
	return days, nil
}

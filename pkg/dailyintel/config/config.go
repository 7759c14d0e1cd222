// Package config loads pipeline settings: built-in defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/dailyintel/pkg/dailyintel/enrich"
	"github.com/cognicore/dailyintel/pkg/dailyintel/identity"
	"github.com/cognicore/dailyintel/pkg/dailyintel/ingest"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/rank"
)

// Environment variables read by Load.
const (
	ConfigPathEnv     = "DAILYINTEL_CONFIG"
	DatasetDirEnv     = "DAILYINTEL_DATASET_DIR"
	StorePathEnv      = "DAILYINTEL_STORE_PATH"
	LogLevelEnv       = "DAILYINTEL_LOG_LEVEL"
	ImageEndpointEnv  = "DAILYINTEL_IMAGE_ENDPOINT"
	ChatAPIKeyEnv     = "DAILYINTEL_CHAT_API_KEY"
	GoogleProjectEnv  = "GOOGLE_CLOUD_PROJECT"
	MirrorBucketEnv   = "DAILYINTEL_MIRROR_BUCKET"
	DefaultConfigFile = "dailyintel.yaml"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
	StoreFiles  = "files" // dedup against the published files only
)

// Prompt writer backends.
const (
	PrompterTemplate = "template"
	PrompterChat     = "chat"
	PrompterVertex   = "vertex"
	PrompterText     = "text" // plain-text endpoint next to the image service
)

// Config holds all pipeline settings.
type Config struct {
	DatasetDir string        `yaml:"datasetDir"`
	Store      StoreConfig   `yaml:"store"`
	Log        LogConfig     `yaml:"log"`
	Ingest     IngestConfig  `yaml:"ingest"`
	Rank       RankConfig    `yaml:"rank"`
	Enrich     EnrichConfig  `yaml:"enrich"`
	Mirror     MirrorConfig  `yaml:"mirror"`
	Watch      WatchConfig   `yaml:"watch"`
	Metrics    MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects the sighting index.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file; relative paths are under DatasetDir
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// IngestConfig configures structuring, classification and dedup.
type IngestConfig struct {
	StoplistPath    string `yaml:"stoplist"`
	DictPath        string `yaml:"dictionary"`
	TaxonomyPath    string `yaml:"taxonomy"`
	MaxStoryChars   int    `yaml:"maxStoryChars"`
	MaxSummaryChars int    `yaml:"maxSummaryChars"`
	DedupPolicy     string `yaml:"dedupPolicy"`
}

// RankConfig configures the engagement scorer. Nil boosts select the
// defaults for the built-in vocabulary.
type RankConfig struct {
	Weights        rank.Weights       `yaml:"weights"`
	CategoryBoosts map[string]float64 `yaml:"categoryBoosts"`
}

// Boosts returns the configured category boosts or the defaults.
func (r RankConfig) Boosts() map[string]float64 {
	if r.CategoryBoosts == nil {
		return rank.DefaultCategoryBoosts()
	}
	return r.CategoryBoosts
}

// EnrichConfig configures the image pass.
type EnrichConfig struct {
	Workers      int           `yaml:"workers"`
	Attempts     int           `yaml:"attempts"`
	Timeout      time.Duration `yaml:"timeout"`
	Backoff      time.Duration `yaml:"backoff"`
	MaxBackoff   time.Duration `yaml:"maxBackoff"`
	VerifyAssets bool          `yaml:"verifyAssets"`
	Prompter     string        `yaml:"prompter"`
	Image        ImageConfig   `yaml:"image"`
	Chat         ChatConfig    `yaml:"chat"`
	Vertex       VertexConfig  `yaml:"vertex"`
}

// Options converts the settings for the coordinator.
func (e EnrichConfig) Options() enrich.Options {
	return enrich.Options{
		Workers:      e.Workers,
		Attempts:     e.Attempts,
		Timeout:      e.Timeout,
		Backoff:      e.Backoff,
		MaxBackoff:   e.MaxBackoff,
		VerifyAssets: e.VerifyAssets,
	}
}

// ImageConfig points at the HTTP image generator.
type ImageConfig struct {
	Endpoint     string `yaml:"endpoint"`
	TextEndpoint string `yaml:"textEndpoint"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	Model        string `yaml:"model"`
}

// ChatConfig points at an OpenAI-compatible chat endpoint used for prompts.
type ChatConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"apiKey"`
}

// VertexConfig selects a Gemini model on Vertex AI for prompts.
type VertexConfig struct {
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	Model    string `yaml:"model"`
}

// MirrorConfig names the bucket published days are copied to.
type MirrorConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// WatchConfig configures inbox watching.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig configures the metrics textfile written after each command.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration.
func Default() Config {
	eo := enrich.DefaultOptions()
	return Config{
		DatasetDir: "data",
		Store:      StoreConfig{Driver: StoreSQLite, Path: "dailyintel.db"},
		Log:        LogConfig{Level: "info", Format: "text"},
		Ingest: IngestConfig{
			MaxStoryChars:   ingest.DefaultMaxStoryChars,
			MaxSummaryChars: ingest.DefaultMaxSummaryChars,
			DedupPolicy:     string(identity.PolicyFlag),
		},
		Rank: RankConfig{Weights: rank.DefaultWeights()},
		Enrich: EnrichConfig{
			Workers:    eo.Workers,
			Attempts:   eo.Attempts,
			Timeout:    eo.Timeout,
			Backoff:    eo.Backoff,
			MaxBackoff: eo.MaxBackoff,
			Prompter:   PrompterTemplate,
			Image: ImageConfig{
				Endpoint:     "https://image.pollinations.ai",
				TextEndpoint: "https://text.pollinations.ai",
				Width:        1024,
				Height:       1024,
			},
			Chat:   ChatConfig{BaseURL: "https://api.openai.com/v1/chat/completions", Model: "gpt-4o-mini"},
			Vertex: VertexConfig{Location: "us-central1", Model: "gemini-2.0-flash"},
		},
		Mirror: MirrorConfig{Prefix: "datasets"},
		Watch:  WatchConfig{Debounce: 2 * time.Second},
	}
}

// Load builds the configuration. An empty path falls back to
// $DAILYINTEL_CONFIG; a missing default file is not an error, a missing
// explicit file is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Decoding onto the defaults keeps every field the file leaves out.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", internalerr.ErrInvalidConfig, path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return Config{}, fmt.Errorf("%w: read %s: %v", internalerr.ErrInvalidConfig, path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(DatasetDirEnv); v != "" {
		c.DatasetDir = v
	}
	if v := os.Getenv(StorePathEnv); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(LogLevelEnv); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(ImageEndpointEnv); v != "" {
		c.Enrich.Image.Endpoint = v
	}
	if v := os.Getenv(ChatAPIKeyEnv); v != "" {
		c.Enrich.Chat.APIKey = v
	}
	if v := os.Getenv(GoogleProjectEnv); v != "" {
		c.Enrich.Vertex.Project = v
	}
	if v := os.Getenv(MirrorBucketEnv); v != "" {
		c.Mirror.Bucket = v
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DatasetDir) == "" {
		problems = append(problems, "datasetDir is required")
	}
	switch c.Store.Driver {
	case StoreSQLite:
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case StoreMemory, StoreFiles:
	default:
		problems = append(problems, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}
	if _, err := identity.ParsePolicy(c.Ingest.DedupPolicy); err != nil {
		problems = append(problems, fmt.Sprintf("unknown dedup policy %q", c.Ingest.DedupPolicy))
	}
	if c.Ingest.MaxStoryChars < 0 || c.Ingest.MaxSummaryChars < 0 {
		problems = append(problems, "ingest limits must not be negative")
	}
	if c.Enrich.Workers <= 0 {
		problems = append(problems, "enrich.workers must be positive")
	}
	if c.Enrich.Attempts <= 0 {
		problems = append(problems, "enrich.attempts must be positive")
	}
	if c.Enrich.Timeout <= 0 {
		problems = append(problems, "enrich.timeout must be positive")
	}
	switch c.Enrich.Prompter {
	case PrompterTemplate, PrompterChat, PrompterVertex, PrompterText:
	default:
		problems = append(problems, fmt.Sprintf("unknown prompter %q", c.Enrich.Prompter))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

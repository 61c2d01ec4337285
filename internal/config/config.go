package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dshills/codesearch/internal/cache"
	"github.com/dshills/codesearch/internal/chunker"
	"github.com/dshills/codesearch/internal/embedder"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/index/qdrant"
	"github.com/dshills/codesearch/internal/indexer"
	"github.com/dshills/codesearch/internal/loader"
	"github.com/dshills/codesearch/internal/searcher"
	"github.com/dshills/codesearch/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. CODESEARCH_INDEX_TYPE
const EnvPrefix = "CODESEARCH"

// Config holds all application configuration.
type Config struct {
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Index     IndexConfig     `mapstructure:"index"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Search    SearchConfig    `mapstructure:"search"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type EmbedderConfig struct {
	Provider  string        `mapstructure:"provider"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	Dimension int           `mapstructure:"dimension"`
	CacheSize int           `mapstructure:"cache_size"`
	BatchSize int           `mapstructure:"batch_size"`
	Workers   int           `mapstructure:"workers"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type IndexConfig struct {
	Type       string       `mapstructure:"type"`
	Metric     string       `mapstructure:"metric"`
	Partitions int          `mapstructure:"partitions"`
	NProbe     int          `mapstructure:"nprobe"`
	Iterations int          `mapstructure:"iterations"`
	Seed       uint64       `mapstructure:"seed"`
	Qdrant     QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type CacheConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type SearchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Overfetch    int           `mapstructure:"overfetch"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
}

type LoaderConfig struct {
	Extensions      []string `mapstructure:"extensions"`
	SkipDirs        []string `mapstructure:"skip_dirs"`
	MaxFileBytes    int64    `mapstructure:"max_file_bytes"`
	MaxUnitsPerFile int      `mapstructure:"max_units_per_file"`
	WindowLines     int      `mapstructure:"window_lines"`
	MaxDeclLines    int      `mapstructure:"max_decl_lines"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Defaults returns the configuration used when nothing is overridden
func Defaults() *Config {
	return &Config{
		Embedder: EmbedderConfig{
			CacheSize: 10000,
			BatchSize: embedder.DefaultBatchSize,
			Timeout:   30 * time.Second,
		},
		Index: IndexConfig{
			Type:       index.TypeFlat,
			Metric:     string(index.Cosine),
			NProbe:     8,
			Iterations: 10,
			Seed:       42,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "codesearch",
			},
		},
		Cache: CacheConfig{Capacity: cache.DefaultCapacity},
		Search: SearchConfig{
			Timeout:      searcher.DefaultTimeout,
			Overfetch:    searcher.DefaultOverfetch,
			DefaultLimit: searcher.DefaultLimit,
			MaxLimit:     searcher.DefaultMaxLimit,
		},
		Loader: LoaderConfig{
			Extensions:      loader.DefaultExtensions,
			SkipDirs:        loader.DefaultSkipDirs,
			MaxFileBytes:    loader.DefaultMaxFileBytes,
			MaxUnitsPerFile: chunker.DefaultMaxUnitsPerFile,
			WindowLines:     chunker.DefaultWindowLines,
			MaxDeclLines:    chunker.DefaultMaxDeclLines,
		},
		Storage: StorageConfig{Path: defaultStoragePath()},
		Log:     LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			SampleRate:  1.0,
			ServiceName: "codesearch",
		},
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".codesearch", "index.db")
	}
	return filepath.Join(home, ".codesearch", "index.db")
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("embedder.provider", d.Embedder.Provider)
	v.SetDefault("embedder.api_key", d.Embedder.APIKey)
	v.SetDefault("embedder.model", d.Embedder.Model)
	v.SetDefault("embedder.base_url", d.Embedder.BaseURL)
	v.SetDefault("embedder.dimension", d.Embedder.Dimension)
	v.SetDefault("embedder.cache_size", d.Embedder.CacheSize)
	v.SetDefault("embedder.batch_size", d.Embedder.BatchSize)
	v.SetDefault("embedder.workers", d.Embedder.Workers)
	v.SetDefault("embedder.timeout", d.Embedder.Timeout)

	v.SetDefault("index.type", d.Index.Type)
	v.SetDefault("index.metric", d.Index.Metric)
	v.SetDefault("index.partitions", d.Index.Partitions)
	v.SetDefault("index.nprobe", d.Index.NProbe)
	v.SetDefault("index.iterations", d.Index.Iterations)
	v.SetDefault("index.seed", d.Index.Seed)
	v.SetDefault("index.qdrant.host", d.Index.Qdrant.Host)
	v.SetDefault("index.qdrant.port", d.Index.Qdrant.Port)
	v.SetDefault("index.qdrant.collection", d.Index.Qdrant.Collection)

	v.SetDefault("cache.capacity", d.Cache.Capacity)

	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.overfetch", d.Search.Overfetch)
	v.SetDefault("search.default_limit", d.Search.DefaultLimit)
	v.SetDefault("search.max_limit", d.Search.MaxLimit)

	v.SetDefault("loader.extensions", d.Loader.Extensions)
	v.SetDefault("loader.skip_dirs", d.Loader.SkipDirs)
	v.SetDefault("loader.max_file_bytes", d.Loader.MaxFileBytes)
	v.SetDefault("loader.max_units_per_file", d.Loader.MaxUnitsPerFile)
	v.SetDefault("loader.window_lines", d.Loader.WindowLines)
	v.SetDefault("loader.max_decl_lines", d.Loader.MaxDeclLines)

	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
}

// Load reads configuration from a .env file, an optional config file and
// CODESEARCH_* environment variables, in increasing precedence. With an
// empty path, codesearch.yaml is looked up in the working directory and
// in ~/.codesearch; not finding one is not an error.
func Load(path string) (*Config, error) {
	// .env only fills variables that are not already set
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codesearch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".codesearch"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Provider API keys keep their conventional names
	if cfg.Embedder.APIKey == "" {
		switch strings.ToLower(cfg.Embedder.Provider) {
		case embedder.ProviderOpenAI:
			cfg.Embedder.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
		case embedder.ProviderJina:
			cfg.Embedder.APIKey = os.Getenv(embedder.EnvJinaAPIKey)
		}
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Check returns an error for settings no component can run with
func (c *Config) Check() error {
	var errs []error

	switch c.Index.Type {
	case index.TypeFlat, index.TypeIVF, qdrant.TypeQdrant:
	default:
		errs = append(errs, fmt.Errorf("index.type %q must be flat, ivf or qdrant", c.Index.Type))
	}
	if _, err := index.ParseMetric(c.Index.Metric); err != nil {
		errs = append(errs, fmt.Errorf("index.metric: %w", err))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity %d must be positive", c.Cache.Capacity))
	}
	if c.Search.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("search.default_limit %d must be positive", c.Search.DefaultLimit))
	}
	if c.Embedder.BatchSize > embedder.MaxBatchSize {
		errs = append(errs, fmt.Errorf("embedder.batch_size %d exceeds %d", c.Embedder.BatchSize, embedder.MaxBatchSize))
	}
	if c.Index.Type == qdrant.TypeQdrant && c.Index.Qdrant.Host == "" {
		errs = append(errs, errors.New("index.qdrant.host is required for the qdrant index"))
	}

	return errors.Join(errs...)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	provider := strings.ToLower(c.Embedder.Provider)
	if (provider == embedder.ProviderOpenAI || provider == embedder.ProviderJina) && c.Embedder.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedder provider '%s' is configured but api_key is empty", c.Embedder.Provider))
	}

	if c.Index.Type == index.TypeIVF && c.Index.Partitions > 0 && c.Index.NProbe >= c.Index.Partitions {
		warnings = append(warnings, fmt.Sprintf("index.nprobe %d >= index.partitions %d makes ivf search exhaustive", c.Index.NProbe, c.Index.Partitions))
	}

	if c.Search.DefaultLimit > c.Search.MaxLimit && c.Search.MaxLimit > 0 {
		warnings = append(warnings, fmt.Sprintf("search.default_limit %d is above search.max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit))
	}

	if c.Search.Timeout < 0 {
		warnings = append(warnings, "search.timeout is negative; queries have no deadline")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("telemetry.sample_rate %.2f is outside [0.0, 1.0]", c.Telemetry.SampleRate))
	}

	return warnings
}

// LoaderConfig converts the loader section
func (c *Config) LoaderConfig() loader.Config {
	return loader.Config{
		Extensions:   c.Loader.Extensions,
		SkipDirs:     c.Loader.SkipDirs,
		MaxFileBytes: c.Loader.MaxFileBytes,
		Chunker: chunker.Config{
			WindowLines:     c.Loader.WindowLines,
			MaxDeclLines:    c.Loader.MaxDeclLines,
			MaxUnitsPerFile: c.Loader.MaxUnitsPerFile,
		},
	}
}

// EmbedderConfig converts the embedder section
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedder.Provider,
		APIKey:    c.Embedder.APIKey,
		Model:     c.Embedder.Model,
		BaseURL:   c.Embedder.BaseURL,
		Dimension: c.Embedder.Dimension,
		CacheSize: c.Embedder.CacheSize,
		Timeout:   c.Embedder.Timeout,
	}
}

// IndexerConfig converts the index and batching settings
func (c *Config) IndexerConfig() indexer.Config {
	metric, err := index.ParseMetric(c.Index.Metric)
	if err != nil {
		metric = index.Cosine
	}
	return indexer.Config{
		Workers:   c.Embedder.Workers,
		BatchSize: c.Embedder.BatchSize,
		Index: index.Config{
			Type:       c.Index.Type,
			Metric:     metric,
			Partitions: c.Index.Partitions,
			NProbe:     c.Index.NProbe,
			Iterations: c.Index.Iterations,
			Seed:       c.Index.Seed,
		},
		Qdrant: qdrant.Config{
			Addr:       fmt.Sprintf("%s:%d", c.Index.Qdrant.Host, c.Index.Qdrant.Port),
			Collection: c.Index.Qdrant.Collection,
		},
	}
}

// SearchOptions converts the search section
func (c *Config) SearchOptions() searcher.Options {
	return searcher.Options{
		Timeout:   c.Search.Timeout,
		Overfetch: c.Search.Overfetch,
	}
}

// TracingConfig converts the telemetry section
func (c *Config) TracingConfig(version string) *telemetry.TracingConfig {
	return &telemetry.TracingConfig{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// NewLogger builds the process logger. Output goes to w, normally stderr,
// since stdout carries the MCP protocol.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

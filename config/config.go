// Package config loads the training settings file and derives the paths
// the rest of the pipeline writes to.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrMissingKey     = errors.New("missing required config key")
	ErrInvalid        = errors.New("invalid config")
)

// requiredKeys must be present in every settings file.
var requiredKeys = []string{
	"dataset", "backbone", "root_path", "lr", "train_epoch", "shots", "init_alpha", "init_beta",
}

// StorageConfig selects where checkpoints and persisted features live.
type StorageConfig struct {
	Kind      string `yaml:"kind"` // "local" or "minio"
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// Config is read-only after Load returns.
type Config struct {
	Dataset   string  `yaml:"dataset"`
	Backbone  string  `yaml:"backbone"`
	RootPath  string  `yaml:"root_path"`
	LR        float64 `yaml:"lr"`
	Epochs    int     `yaml:"train_epoch"`
	Shots     int     `yaml:"shots"`
	InitAlpha float64 `yaml:"init_alpha"`
	InitBeta  float64 `yaml:"init_beta"`

	Device         string  `yaml:"device"`
	Seed           int64   `yaml:"seed"`
	TrainLimit     int     `yaml:"train_limit"`
	TrainBatchSize int     `yaml:"train_batch_size"`
	EvalBatchSize  int     `yaml:"eval_batch_size"`
	NumWorkers     int     `yaml:"num_workers"`
	ImageSize      int     `yaml:"image_size"`
	AdapterLR      float64 `yaml:"adapter_lr"`
	HeadLR         float64 `yaml:"head_lr"`
	WeightDecay    float64 `yaml:"weight_decay"`
	AdamEps        float64 `yaml:"adam_eps"`
	CacheRoot      string  `yaml:"cache_root"`
	LoadCache      bool    `yaml:"load_cache"`
	LoadPreFeat    bool    `yaml:"load_pre_feat"`
	BackboneURL    string  `yaml:"backbone_url"`
	EmbedDim       int     `yaml:"embed_dim"`

	// CacheValueScale multiplies the one-hot cache values before training.
	CacheValueScale float64 `yaml:"cache_value_scale"`

	SearchHP    bool      `yaml:"search_hp"`
	SearchScale []float64 `yaml:"search_scale"`
	SearchStep  []int     `yaml:"search_step"`

	VersionedCheckpoints bool `yaml:"versioned_checkpoints"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	Storage StorageConfig `yaml:"storage"`

	// CacheDir is derived as <cache_root>/<dataset>; it is never read from
	// the file.
	CacheDir string `yaml:"-"`
}

// envOverrides are applied after the file is parsed. Empty values leave the
// file setting alone.
type envOverrides struct {
	Device      string `envconfig:"DEVICE"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	BackboneURL string `envconfig:"BACKBONE_URL"`
}

// EnvPrefix namespaces the environment overrides, e.g. TIPADAPTER_DEVICE.
const EnvPrefix = "TIPADAPTER"

// Default returns the optional settings with their defaults filled in.
func Default() Config {
	return Config{
		Device:          "cpu",
		Seed:            1,
		TrainLimit:      2000,
		TrainBatchSize:  256,
		EvalBatchSize:   64,
		NumWorkers:      8,
		ImageSize:       224,
		AdapterLR:       5e-7,
		HeadLR:          2e-3,
		WeightDecay:     0.01,
		AdamEps:         1e-4,
		CacheValueScale: 1e-5,
		CacheRoot:       "./caches",
		EmbedDim:        512,
		SearchScale:     []float64{7, 3},
		SearchStep:      []int{200, 20},
		LogLevel:        "info",
		LogFormat:       "console",
		Storage:         StorageConfig{Kind: "local"},
	}
}

// Load reads the settings file at path, applies environment overrides,
// validates it and creates the derived cache directory.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ensureCacheDir(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of Default and checks that every
// required key is present.
func Parse(raw []byte) (*Config, error) {
	var keys map[string]any
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.CacheDir = filepath.Join(cfg.CacheRoot, cfg.Dataset)
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	// A missing .env file is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if env.Device != "" {
		c.Device = env.Device
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
	if env.MetricsAddr != "" {
		c.MetricsAddr = env.MetricsAddr
	}
	if env.BackboneURL != "" {
		c.BackboneURL = env.BackboneURL
	}
	return nil
}

// Validate checks value ranges. Presence of required keys is checked by Parse.
func (c *Config) Validate() error {
	switch {
	case c.Dataset == "":
		return fmt.Errorf("%w: dataset cannot be empty", ErrInvalid)
	case c.Backbone == "":
		return fmt.Errorf("%w: backbone cannot be empty", ErrInvalid)
	case !strings.Contains(c.RootPath, "%s"):
		return fmt.Errorf("%w: root_path %q must contain a %%s split placeholder", ErrInvalid, c.RootPath)
	case c.LR < 0 || c.AdapterLR < 0 || c.HeadLR < 0:
		return fmt.Errorf("%w: learning rates must be non-negative", ErrInvalid)
	case c.Epochs <= 0:
		return fmt.Errorf("%w: train_epoch must be positive", ErrInvalid)
	case c.Shots <= 0:
		return fmt.Errorf("%w: shots must be positive", ErrInvalid)
	case c.TrainBatchSize <= 0 || c.EvalBatchSize <= 0:
		return fmt.Errorf("%w: batch sizes must be positive", ErrInvalid)
	case c.TrainLimit <= 0:
		return fmt.Errorf("%w: train_limit must be positive", ErrInvalid)
	case c.NumWorkers <= 0:
		return fmt.Errorf("%w: num_workers must be positive", ErrInvalid)
	case c.ImageSize <= 0:
		return fmt.Errorf("%w: image_size must be positive", ErrInvalid)
	case c.EmbedDim <= 0:
		return fmt.Errorf("%w: embed_dim must be positive", ErrInvalid)
	case c.Device == "":
		return fmt.Errorf("%w: device cannot be empty", ErrInvalid)
	case len(c.SearchScale) != 2 || len(c.SearchStep) != 2:
		return fmt.Errorf("%w: search_scale and search_step need two entries (beta, alpha)", ErrInvalid)
	}

	switch c.Storage.Kind {
	case "", "local":
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return fmt.Errorf("%w: minio storage needs endpoint and bucket", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage kind %q", ErrInvalid, c.Storage.Kind)
	}
	return nil
}

func (c *Config) ensureCacheDir() error {
	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", c.CacheDir, err)
	}
	return nil
}

// Package config loads binscore settings from a file, the environment and
// command-line flags, and discovers default filesystem paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/cvalentine99/binscore/internal/features"
	"github.com/cvalentine99/binscore/internal/logging"
	"github.com/cvalentine99/binscore/internal/policy"
)

// EnvPrefix is prepended to every environment override, e.g. BINSCORE_MODEL_PATH.
const EnvPrefix = "BINSCORE"

// Config is the full binscore configuration.
type Config struct {
	Model    ModelConfig    `mapstructure:"model"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Features FeaturesConfig `mapstructure:"features"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ModelConfig selects and configures the classifier artifact.
type ModelConfig struct {
	Path           string     `mapstructure:"path"`
	Format         string     `mapstructure:"format"`
	InputDimension int        `mapstructure:"input_dimension"`
	ONNX           ONNXConfig `mapstructure:"onnx"`
}

// ONNXConfig holds ONNX Runtime settings.
type ONNXConfig struct {
	LibraryPath string `mapstructure:"library_path"`
	InputName   string `mapstructure:"input_name"`
	OutputName  string `mapstructure:"output_name"`
	Threads     int    `mapstructure:"threads"`
	PoolSize    int    `mapstructure:"pool_size"`
}

// PolicyConfig holds the verdict thresholds. A zero threshold uses the mode's default.
type PolicyConfig struct {
	Mode                string  `mapstructure:"mode"`
	MaliciousThreshold  float64 `mapstructure:"malicious_threshold"`
	SuspiciousThreshold float64 `mapstructure:"suspicious_threshold"`
}

// ScannerConfig controls file handling and batch scanning.
type ScannerConfig struct {
	Workers     int   `mapstructure:"workers"`
	MaxFileSize int64 `mapstructure:"max_file_size"`
	HistorySize int   `mapstructure:"history_size"`
}

// FeaturesConfig controls extraction.
type FeaturesConfig struct {
	Window          int `mapstructure:"window"`
	EntropySections int `mapstructure:"entropy_sections"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	File string `mapstructure:"file"`
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Path: Paths.ModelPath,
			ONNX: ONNXConfig{
				LibraryPath: Paths.ONNXLibraryPath,
				Threads:     1,
				PoolSize:    4,
			},
		},
		Policy: PolicyConfig{
			Mode: string(policy.ModeThreeTier),
		},
		Scanner: ScannerConfig{
			Workers:     runtime.NumCPU(),
			HistorySize: 100,
		},
		Features: FeaturesConfig{
			Window:          features.DefaultWindow,
			EntropySections: features.MaxSections,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// NewViper returns a viper instance carrying defaults and env bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("model.path", d.Model.Path)
	v.SetDefault("model.format", d.Model.Format)
	v.SetDefault("model.input_dimension", d.Model.InputDimension)
	v.SetDefault("model.onnx.library_path", d.Model.ONNX.LibraryPath)
	v.SetDefault("model.onnx.input_name", d.Model.ONNX.InputName)
	v.SetDefault("model.onnx.output_name", d.Model.ONNX.OutputName)
	v.SetDefault("model.onnx.threads", d.Model.ONNX.Threads)
	v.SetDefault("model.onnx.pool_size", d.Model.ONNX.PoolSize)
	v.SetDefault("policy.mode", d.Policy.Mode)
	v.SetDefault("policy.malicious_threshold", d.Policy.MaliciousThreshold)
	v.SetDefault("policy.suspicious_threshold", d.Policy.SuspiciousThreshold)
	v.SetDefault("scanner.workers", d.Scanner.Workers)
	v.SetDefault("scanner.max_file_size", d.Scanner.MaxFileSize)
	v.SetDefault("scanner.history_size", d.Scanner.HistorySize)
	v.SetDefault("features.window", d.Features.Window)
	v.SetDefault("features.entropy_sections", d.Features.EntropySections)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.file", d.Metrics.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	return v
}

// Load reads path (YAML, TOML or JSON by extension) over the defaults and
// applies BINSCORE_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	return FromViper(NewViper(), path)
}

// FromViper reads path into v and decodes the result. Flags bound to v by the
// caller take precedence over the file.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges across all sections.
func (c *Config) Validate() error {
	var errs []error

	if c.Model.InputDimension < 0 {
		errs = append(errs, fmt.Errorf("model.input_dimension must not be negative"))
	} else if c.Model.InputDimension > 0 {
		if err := features.CheckDimension(c.Model.InputDimension); err != nil {
			errs = append(errs, fmt.Errorf("model.input_dimension: %w", err))
		}
	}
	if c.Model.ONNX.Threads < 0 || c.Model.ONNX.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("model.onnx threads and pool_size must not be negative"))
	}
	if _, err := c.PolicyValue(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	if c.Scanner.Workers < 0 {
		errs = append(errs, fmt.Errorf("scanner.workers must not be negative"))
	}
	if c.Scanner.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("scanner.max_file_size must not be negative"))
	}
	if c.Features.Window < 0 {
		errs = append(errs, fmt.Errorf("features.window must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// PolicyValue builds the configured scoring policy.
func (c *Config) PolicyValue() (policy.Policy, error) {
	return policy.New(c.Policy.Mode, c.Policy.MaliciousThreshold, c.Policy.SuspiciousThreshold)
}

// LoggingConfig converts the log section for logging.Init.
func (c *Config) LoggingConfig() *logging.Config {
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = level
	}
	if c.Log.Format != "" {
		lc.Format = c.Log.Format
	}
	return lc
}

// ExtractorConfig converts the features section for features.NewExtractor.
func (c *Config) ExtractorConfig() *features.Config {
	fc := features.DefaultConfig()
	if c.Features.Window > 0 {
		fc.Window = c.Features.Window
	}
	if c.Features.EntropySections != 0 {
		fc.EntropySections = c.Features.EntropySections
	}
	return fc
}

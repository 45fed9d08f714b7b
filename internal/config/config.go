package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

// Config holds the service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upload     UploadConfig     `yaml:"upload"`
	Model      ModelConfig      `yaml:"model"`
	Prediction PredictionConfig `yaml:"prediction"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins       []string      `yaml:"cors_origins"`
}

type UploadConfig struct {
	Field    string `yaml:"field"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type ModelConfig struct {
	Source         string         `yaml:"source"`
	MetadataSource string         `yaml:"metadata_source"`
	Metadata       model.Metadata `yaml:"metadata"`
	SharedLibrary  string         `yaml:"shared_library"`
	IntraOpThreads int            `yaml:"intra_op_threads"`
	FetchTimeout   time.Duration  `yaml:"fetch_timeout"`
	FetchRetries   uint64         `yaml:"fetch_retries"`
	// WaitOnStart logs whether the model became ready within this long
	// after startup. Zero disables it; the listener never waits.
	WaitOnStart time.Duration `yaml:"wait_on_start"`
}

type PredictionConfig struct {
	Threshold    float32 `yaml:"threshold"`
	ResizeFilter string  `yaml:"resize_filter"`
	AutoOrient   bool    `yaml:"auto_orient"`
	CacheSize    int     `yaml:"cache_size"`
	MaxPixels    int     `yaml:"max_pixels"`
}

// LogConfig selects the zap level and encoding, plus an optional rotated file.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              3000,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigins:       []string{"*"},
		},
		Upload: UploadConfig{
			Field:    "image",
			MaxBytes: 1000000,
		},
		Model: ModelConfig{
			Source: "models/model.onnx",
			Metadata: model.Metadata{
				InputName:   "input",
				OutputName:  "output",
				InputShape:  []int64{1, 224, 224, 3},
				OutputShape: []int64{1, 1},
				Layout:      model.LayoutNHWC,
			},
			FetchTimeout: 2 * time.Minute,
			FetchRetries: 3,
		},
		Prediction: PredictionConfig{
			Threshold:    0.5,
			ResizeFilter: "bilinear",
			MaxPixels:    25000000,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}
	c.Model.Source = getEnv("MODEL_SOURCE", c.Model.Source)
	c.Model.MetadataSource = getEnv("MODEL_METADATA_SOURCE", c.Model.MetadataSource)
	c.Model.SharedLibrary = getEnv("ORT_SHARED_LIBRARY", c.Model.SharedLibrary)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Upload.Field == "" {
		return fmt.Errorf("upload.field cannot be empty")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if c.Model.Source == "" {
		return fmt.Errorf("model.source cannot be empty")
	}
	if c.Model.MetadataSource == "" {
		if _, err := c.Model.Metadata.Normalize().InputSpec(); err != nil {
			return fmt.Errorf("model.metadata: %w", err)
		}
	}
	if c.Model.IntraOpThreads < 0 {
		return fmt.Errorf("model.intra_op_threads cannot be negative")
	}
	if c.Model.WaitOnStart < 0 {
		return fmt.Errorf("model.wait_on_start cannot be negative")
	}
	if c.Prediction.Threshold < 0 || c.Prediction.Threshold > 1 {
		return fmt.Errorf("prediction.threshold must be between 0 and 1")
	}
	if c.Prediction.CacheSize < 0 {
		return fmt.Errorf("prediction.cache_size cannot be negative")
	}
	if c.Prediction.MaxPixels <= 0 {
		return fmt.Errorf("prediction.max_pixels must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"go.uber.org/zap/zapcore"

	"github.com/Brownie44l1/classify-api/internal/ranking"
)

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Port               int           `koanf:"port"`
	Debug              bool          `koanf:"debug"`
	CORSOrigins        []string      `koanf:"corsorigins"`
	ReadTimeout        time.Duration `koanf:"readtimeout"`
	WriteTimeout       time.Duration `koanf:"writetimeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdowntimeout"`
	MaxMultipartMemory int64         `koanf:"maxmultipartmemory"`
}

// LogConfig controls the zap cores. An empty File keeps logs on stdout/stderr only.
type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSize    int    `koanf:"maxsize"` // megabytes
	MaxBackups int    `koanf:"maxbackups"`
	MaxAge     int    `koanf:"maxage"` // days
}

// ModelConfig selects the backbone and where its weights live. The
// zero-valued override fields fall back to the backbone catalog.
type ModelConfig struct {
	Backbone    string `koanf:"backbone"`
	Path        string `koanf:"path"`
	Metadata    string `koanf:"metadata"`
	Library     string `koanf:"library"`
	Accelerator string `koanf:"accelerator"`
	Workers     int    `koanf:"workers"`
	InputName   string `koanf:"inputname"`
	OutputName  string `koanf:"outputname"`

	ImageSize     int    `koanf:"imagesize"`
	ResizeShort   int    `koanf:"resizeshort"`
	Normalization string `koanf:"normalization"`
	Layout        string `koanf:"layout"`
	Activation    string `koanf:"activation"`
}

// UploadConfig related to upload validation. MaxFileSize of 0 disables the ceiling.
type UploadConfig struct {
	MaxFileSize int64 `koanf:"maxfilesize"`
}

// PipelineConfig related to a single classification
type PipelineConfig struct {
	TopK    int           `koanf:"topk"`
	Timeout time.Duration `koanf:"timeout"`
}

// BatchConfig related to /predict/batch
type BatchConfig struct {
	MaxItems    int `koanf:"maxitems"`
	Concurrency int `koanf:"concurrency"`
}

// CacheConfig sizes the in-memory result cache, 0 disables it.
type CacheConfig struct {
	Size int `koanf:"size"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// AppConfig defines
type AppConfig struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Model    ModelConfig    `koanf:"model"`
	Upload   UploadConfig   `koanf:"upload"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Batch    BatchConfig    `koanf:"batch"`
	Cache    CacheConfig    `koanf:"cache"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	return n
}

func defaults() map[string]any {
	return map[string]any{
		"server.port":               8080,
		"server.debug":              false,
		"server.corsorigins":        []string{"*"},
		"server.readtimeout":        "30s",
		"server.writetimeout":       "60s",
		"server.shutdowntimeout":    "10s",
		"server.maxmultipartmemory": 32 << 20,
		"log.level":                 "info",
		"log.maxsize":               100,
		"log.maxbackups":            3,
		"log.maxage":                28,
		"model.backbone":            "mobilenet_v2",
		"model.path":                "models/model.onnx",
		"model.metadata":            "models/model_metadata.json",
		"model.accelerator":         "auto",
		"model.workers":             defaultWorkers(),
		"model.inputname":           "input",
		"model.outputname":          "output",
		"upload.maxfilesize":        0,
		"pipeline.topk":             ranking.DefaultK,
		"pipeline.timeout":          "30s",
		"batch.maxitems":            10,
		"batch.concurrency":         2,
		"cache.size":                0,
		"metrics.enabled":           true,
	}
}

var defaultConfigPath = "config/config.yaml"

// Load merges defaults, the YAML file at filePath and CFG_ environment
// variables, in that order. A missing file at the default path is not an error.
func Load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}

	if filePath != "" {
		_, statErr := os.Stat(filePath)
		if statErr == nil || filePath != defaultConfigPath {
			if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", filePath, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a request.
func Validate(c *AppConfig) error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxMultipartMemory <= 0 {
		return fmt.Errorf("server.maxmultipartmemory must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model.path cannot be empty")
	}
	switch c.Model.Accelerator {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("model.accelerator must be one of auto, cpu, cuda, got %q", c.Model.Accelerator)
	}
	if c.Model.Workers < 1 {
		return fmt.Errorf("model.workers must be at least 1")
	}
	if c.Upload.MaxFileSize < 0 {
		return fmt.Errorf("upload.maxfilesize cannot be negative")
	}
	if c.Pipeline.TopK < 1 {
		return fmt.Errorf("pipeline.topk must be at least 1")
	}
	if c.Pipeline.Timeout < 0 {
		return fmt.Errorf("pipeline.timeout cannot be negative")
	}
	if c.Batch.MaxItems < 1 {
		return fmt.Errorf("batch.maxitems must be at least 1")
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size cannot be negative")
	}
	return nil
}

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag(args []string) (string, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *configPath, nil
}

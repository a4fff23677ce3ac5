// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/reelsmith/internal/caption"
	"github.com/maauso/reelsmith/internal/compose"
	"github.com/maauso/reelsmith/internal/job"
)

// Static errors for configuration validation.
var (
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrInvalidLogFormat is returned for a LOG_FORMAT other than json, text or auto.
	ErrInvalidLogFormat = errors.New("config: LOG_FORMAT must be json, text or auto")
	// ErrInvalidConcurrency is returned when WORKER_CONCURRENCY or QUEUE_CAPACITY is not positive.
	ErrInvalidConcurrency = errors.New("config: WORKER_CONCURRENCY and QUEUE_CAPACITY must be positive")
	// ErrInvalidAttempts is returned when JOB_MAX_ATTEMPTS is not positive.
	ErrInvalidAttempts = errors.New("config: JOB_MAX_ATTEMPTS must be positive")
	// ErrInvalidFreeSpace is returned when CACHE_MIN_FREE_RATIO is outside [0,1).
	ErrInvalidFreeSpace = errors.New("config: CACHE_MIN_FREE_RATIO must be within [0,1)")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port               int           `env:"PORT, default=8080" json:"port"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`
	SyncWaitTimeout    time.Duration `env:"SYNC_WAIT_TIMEOUT, default=15m" json:"sync_wait_timeout"`

	// Storage settings
	WorkDir       string `env:"WORK_DIR, default=/tmp/reelsmith/work" json:"work_dir"`
	OutputDir     string `env:"OUTPUT_DIR, default=/tmp/reelsmith/output" json:"output_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`

	// Asset settings
	AssetsDir          string        `env:"ASSETS_DIR, default=./assets" json:"assets_dir"`
	CacheDir           string        `env:"CACHE_DIR, default=/tmp/reelsmith/cache" json:"cache_dir"`
	CacheTTL           time.Duration `env:"CACHE_TTL, default=72h" json:"cache_ttl"`
	CacheMaxBytes      int64         `env:"CACHE_MAX_BYTES, default=10737418240" json:"cache_max_bytes"`
	CacheMinFreeRatio  float64       `env:"CACHE_MIN_FREE_RATIO, default=0.10" json:"cache_min_free_ratio"`
	CachePruneInterval time.Duration `env:"CACHE_PRUNE_INTERVAL, default=15m" json:"cache_prune_interval"`
	DownloadTimeout    time.Duration `env:"DOWNLOAD_TIMEOUT, default=2m" json:"download_timeout"`
	DownloadRetries    int           `env:"DOWNLOAD_RETRIES, default=3" json:"download_retries"`
	AllowLocalSources  bool          `env:"ALLOW_LOCAL_SOURCES, default=false" json:"allow_local_sources"`

	// Caption settings
	CaptionPresetsFile string `env:"CAPTION_PRESETS_FILE" json:"caption_presets_file,omitempty"`

	// Engine settings
	FFmpegPath    string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath   string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	EngineTimeout time.Duration `env:"ENGINE_TIMEOUT, default=10m" json:"engine_timeout"`
	EncodeCRF     int           `env:"ENCODE_CRF, default=23" json:"encode_crf"`
	EncodePreset  string        `env:"ENCODE_PRESET, default=veryfast" json:"encode_preset"`
	EncodeFPS     int           `env:"ENCODE_FPS, default=30" json:"encode_fps"`

	// Queue settings
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY, default=2" json:"worker_concurrency"`
	QueueCapacity     int           `env:"QUEUE_CAPACITY, default=100" json:"queue_capacity"`
	JobMaxAttempts    int           `env:"JOB_MAX_ATTEMPTS, default=3" json:"job_max_attempts"`
	JobBackoff        time.Duration `env:"JOB_BACKOFF, default=2s" json:"job_backoff"`
	JobMaxBackoff     time.Duration `env:"JOB_MAX_BACKOFF, default=1m" json:"job_max_backoff"`
	JobRetention      time.Duration `env:"JOB_RETENTION, default=24h" json:"job_retention"`
	ShutdownGrace     time.Duration `env:"SHUTDOWN_GRACE, default=30s" json:"shutdown_grace"`
	// JobDBPath selects the SQLite job store. Empty keeps jobs in memory.
	JobDBPath string `env:"JOB_DB_PATH" json:"job_db_path,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=auto" json:"log_format"` // "json", "text" or "auto"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text", "auto", "":
	default:
		return ErrInvalidLogFormat
	}
	if c.WorkerConcurrency <= 0 || c.QueueCapacity <= 0 {
		return ErrInvalidConcurrency
	}
	if c.JobMaxAttempts <= 0 {
		return ErrInvalidAttempts
	}
	if c.CacheMinFreeRatio < 0 || c.CacheMinFreeRatio >= 1 {
		return ErrInvalidFreeSpace
	}
	return nil
}

// QueueOptions returns the job queue settings.
func (c *Config) QueueOptions() job.Options {
	return job.Options{
		Concurrency:     c.WorkerConcurrency,
		Capacity:        c.QueueCapacity,
		MaxAttempts:     c.JobMaxAttempts,
		BaseBackoff:     c.JobBackoff,
		MaxBackoff:      c.JobMaxBackoff,
		Retention:       c.JobRetention,
		JanitorInterval: 10 * time.Minute,
		ShutdownGrace:   c.ShutdownGrace,
	}
}

// EncodeOptions returns the video encoder settings.
func (c *Config) EncodeOptions() compose.EncodeOptions {
	return compose.EncodeOptions{
		CRF:    c.EncodeCRF,
		Preset: c.EncodePreset,
		FPS:    c.EncodeFPS,
	}
}

// LoadPresets reads the caption style presets file, if configured.
func (c *Config) LoadPresets() (caption.Presets, error) {
	return caption.LoadPresetsFile(c.CaptionPresetsFile)
}

// NewLogger creates a structured logger on stdout. "auto" picks text for an
// interactive terminal and JSON otherwise.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
}

func (c *Config) newLogger(w io.Writer, tty bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	switch strings.ToLower(c.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		if tty {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, WorkDir: %s, OutputDir: %s, PublicBaseURL: %s, CacheDir: %s, CacheTTL: %s, Workers: %d, QueueCapacity: %d, JobDBPath: %s, S3Bucket: %s, S3Region: %s, AWSAccessKeyID: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WorkDir,
		c.OutputDir,
		c.PublicBaseURL,
		c.CacheDir,
		c.CacheTTL,
		c.WorkerConcurrency,
		c.QueueCapacity,
		c.JobDBPath,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSAccessKeyID),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

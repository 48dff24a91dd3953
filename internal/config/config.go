// Package config provides configuration loading from environment variables
// with an optional YAML overlay file.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at the optional YAML overlay file.
const FileEnv = "CONFIG_FILE"

// Static errors for configuration validation.
var (
	// ErrNoRecognizer is returned when neither VOSK_URL nor ONLINE_API_KEY is set.
	ErrNoRecognizer = errors.New("config: VOSK_URL or ONLINE_API_KEY is required")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_SEGMENTS is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_SEGMENTS must be positive")
	// ErrInvalidSegmentLength is returned when SEGMENT_LENGTH_SEC is not positive.
	ErrInvalidSegmentLength = errors.New("config: SEGMENT_LENGTH_SEC must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/meetnote" json:"temp_dir"`

	// Processing settings
	FFmpegPath            string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	MaxConcurrentSegments int    `env:"MAX_CONCURRENT_SEGMENTS, default=4" json:"max_concurrent_segments"`
	SegmentLengthSec      int    `env:"SEGMENT_LENGTH_SEC, default=30" json:"segment_length_sec"`
	DefaultLocale         string `env:"DEFAULT_LOCALE, default=ko-KR" json:"default_locale"`
	AllowOnlineFallback   bool   `env:"ALLOW_ONLINE_FALLBACK, default=true" json:"allow_online_fallback"`

	// Local recognizer settings
	VoskURL        string `env:"VOSK_URL" json:"vosk_url,omitempty"`
	VoskSampleRate int    `env:"VOSK_SAMPLE_RATE, default=16000" json:"vosk_sample_rate"`

	// Online recognizer settings
	OnlineAPIKey  string `env:"ONLINE_API_KEY" json:"-"` // Masked in JSON
	OnlineBaseURL string `env:"ONLINE_BASE_URL, default=https://api.openai.com/v1" json:"online_base_url"`
	OnlineModel   string `env:"ONLINE_MODEL, default=whisper-1" json:"online_model"`

	// Optional Redis job store
	RedisAddr     string `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	RedisPassword string `env:"REDIS_PASSWORD" json:"-"` // Masked in JSON
	RedisDB       int    `env:"REDIS_DB, default=0" json:"redis_db"`
	RedisPrefix   string `env:"REDIS_PREFIX, default=meetnote:job:" json:"redis_prefix"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RedisEnabled returns true if a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// SegmentLength returns the segment length as a duration.
func (c *Config) SegmentLength() time.Duration {
	return time.Duration(c.SegmentLengthSec) * time.Second
}

// Load reads configuration from the environment. If CONFIG_FILE is set, the
// YAML file it names supplies values for variables missing from the
// environment; tag defaults apply last.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration through the given lookuper.
func LoadWith(ctx context.Context, env envconfig.Lookuper) (*Config, error) {
	lookuper := env
	if path, ok := env.Lookup(FileEnv); ok && path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		lookuper = envconfig.MultiLookuper(env, envconfig.MapLookuper(values))
	}

	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// readFile parses a flat YAML document of VARIABLE: value pairs.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// Validate checks that the configuration can serve transcription requests.
func (c *Config) Validate() error {
	if c.VoskURL == "" && c.OnlineAPIKey == "" {
		return ErrNoRecognizer
	}
	if c.MaxConcurrentSegments <= 0 {
		return ErrInvalidConcurrency
	}
	if c.SegmentLengthSec <= 0 {
		return ErrInvalidSegmentLength
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, MaxConcurrentSegments: %d, SegmentLengthSec: %d, DefaultLocale: %s, AllowOnlineFallback: %t, VoskURL: %s, OnlineBaseURL: %s, OnlineModel: %s, OnlineAPIKey: %s, RedisAddr: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.MaxConcurrentSegments,
		c.SegmentLengthSec,
		c.DefaultLocale,
		c.AllowOnlineFallback,
		c.VoskURL,
		c.OnlineBaseURL,
		c.OnlineModel,
		mask(c.OnlineAPIKey),
		c.RedisAddr,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
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

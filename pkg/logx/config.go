package logx

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Format represents the output format
type Format string

const (
	// FormatConsole outputs human readable console logs (default)
	FormatConsole Format = "console"
	// FormatJSON outputs one JSON object per line
	FormatJSON Format = "json"
	// FormatCloudWatch outputs JSON with nanosecond timestamps
	FormatCloudWatch Format = "cloudwatch"
)

// FileConfig enables a rotating file sink next to the primary output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config holds the logger configuration
type Config struct {
	Level Level

	Format Format

	// EnableColors enables colored output (console format only)
	EnableColors bool

	// EnableCaller adds file and line number to logs
	EnableCaller bool

	EnableTimestamp bool

	// TimeFormat is a Go layout, or "unix" / "unixmilli"
	TimeFormat string

	// Output is where to write logs (defaults to os.Stdout)
	Output io.Writer

	// File is optional; nil disables the file sink
	File *FileConfig
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:           LevelInfo,
		Format:          FormatConsole,
		EnableColors:    true,
		EnableCaller:    false,
		EnableTimestamp: true,
		TimeFormat:      time.RFC3339,
		Output:          os.Stdout,
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = ParseLevel(level)
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		switch strings.ToLower(format) {
		case "json":
			config.Format = FormatJSON
		case "cloudwatch":
			config.Format = FormatCloudWatch
		case "console":
			config.Format = FormatConsole
		}
	}

	if color := os.Getenv("LOG_COLOR"); color != "" {
		config.EnableColors = envTrue(color)
	}

	if caller := os.Getenv("LOG_CALLER"); caller != "" {
		config.EnableCaller = envTrue(caller)
	}

	if timeFormat := os.Getenv("LOG_TIME_FORMAT"); timeFormat != "" {
		switch strings.ToUpper(timeFormat) {
		case "RFC3339":
			config.TimeFormat = time.RFC3339
		case "RFC3339NANO":
			config.TimeFormat = time.RFC3339Nano
		case "UNIX":
			config.TimeFormat = "unix"
		case "UNIXMILLI":
			config.TimeFormat = "unixmilli"
		default:
			config.TimeFormat = timeFormat
		}
	}

	if path := os.Getenv("LOG_FILE"); path != "" {
		config.File = &FileConfig{
			Path:       path,
			MaxSizeMB:  envInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: envInt("LOG_FILE_MAX_AGE_DAYS", 28),
			Compress:   envTrue(os.Getenv("LOG_FILE_COMPRESS")),
		}
	}

	return config
}

func envTrue(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

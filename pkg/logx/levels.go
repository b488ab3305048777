package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

// Level is the minimum severity a logger emits.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelOff disables all logging
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses LOG_LEVEL values. TRACE folds into debug and FATAL into
// error; anything unknown means info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR", "FATAL":
		return LevelError
	case "OFF":
		return LevelOff
	default:
		return LevelInfo
	}
}

// Enabled checks if target is emitted when l is the configured level
func (l Level) Enabled(target Level) bool {
	return l <= target
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

package logx

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a map of structured data
type Fields map[string]any

// Logger wraps a zerolog.Logger behind the logx API.
type Logger struct {
	config *Config
	mu     sync.RWMutex
	zl     zerolog.Logger
	file   *lumberjack.Logger
}

// NewLogger creates a new logger with the given config
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Logger{config: config}
	l.rebuild(config.Output)
	return l
}

func (l *Logger) rebuild(out io.Writer) {
	if out == nil {
		out = os.Stdout
	}

	switch l.config.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixmilli":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	case "":
		zerolog.TimeFieldFormat = time.RFC3339
	default:
		zerolog.TimeFieldFormat = l.config.TimeFormat
	}
	if l.config.Format == FormatCloudWatch {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	}

	var primary io.Writer = out
	if l.config.Format == FormatConsole {
		primary = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    !l.config.EnableColors,
			TimeFormat: "15:04:05",
		}
	}

	writers := []io.Writer{primary}
	if l.config.File != nil && l.config.File.Path != "" {
		if l.file == nil {
			l.file = &lumberjack.Logger{
				Filename:   l.config.File.Path,
				MaxSize:    l.config.File.MaxSizeMB,
				MaxBackups: l.config.File.MaxBackups,
				MaxAge:     l.config.File.MaxAgeDays,
				Compress:   l.config.File.Compress,
				LocalTime:  true,
			}
		}
		writers = append(writers, l.file)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(l.config.Level.zerolog()).With()
	if l.config.EnableTimestamp {
		ctx = ctx.Timestamp()
	}
	l.zl = ctx.Logger()
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Level = level
	l.zl = l.zl.Level(level.zerolog())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Level
}

// SetOutput replaces the primary output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Output = w
	l.rebuild(w)
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	l.mu.RLock()
	zl := l.zl
	enabled := l.config.Level.Enabled(level)
	withCaller := l.config.EnableCaller
	l.mu.RUnlock()

	if !enabled {
		return
	}

	ev := zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]any(fields))
	}
	if err != nil {
		ev = ev.Err(err)
	}
	if withCaller {
		ev = ev.Str("caller", getCaller(3))
	}
	ev.Msg(msg)
}

// WithField creates a new entry with a field
func (l *Logger) WithField(key string, value any) *Entry {
	return newEntry(l).WithField(key, value)
}

// WithFields creates a new entry with fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return newEntry(l).WithFields(fields)
}

// WithError creates a new entry with an error
func (l *Logger) WithError(err error) *Entry {
	return newEntry(l).WithError(err)
}

func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	parts := strings.Split(file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
}

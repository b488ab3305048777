package logx

import (
	"context"
	"fmt"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewLogger(LoadFromEnv()))
}

// SetDefaultLogger replaces the logger behind the package level functions.
// The previous logger is not closed.
func SetDefaultLogger(logger *Logger) {
	defaultLogger.Store(logger)
}

func GetDefaultLogger() *Logger {
	return defaultLogger.Load()
}

func Debug(msg string) { GetDefaultLogger().log(LevelDebug, msg, nil, nil) }
func Info(msg string)  { GetDefaultLogger().log(LevelInfo, msg, nil, nil) }
func Warn(msg string)  { GetDefaultLogger().log(LevelWarn, msg, nil, nil) }
func Error(msg string) { GetDefaultLogger().log(LevelError, msg, nil, nil) }

func Debugf(format string, args ...any) {
	GetDefaultLogger().log(LevelDebug, fmt.Sprintf(format, args...), nil, nil)
}

func Infof(format string, args ...any) {
	GetDefaultLogger().log(LevelInfo, fmt.Sprintf(format, args...), nil, nil)
}

func Warnf(format string, args ...any) {
	GetDefaultLogger().log(LevelWarn, fmt.Sprintf(format, args...), nil, nil)
}

func Errorf(format string, args ...any) {
	GetDefaultLogger().log(LevelError, fmt.Sprintf(format, args...), nil, nil)
}

func WithFields(fields Fields) *Entry {
	return GetDefaultLogger().WithFields(fields)
}

func WithField(key string, value any) *Entry {
	return GetDefaultLogger().WithField(key, value)
}

func WithError(err error) *Entry {
	return GetDefaultLogger().WithError(err)
}

// WithContext starts an entry carrying the fields stored in ctx by
// ContextWithFields, typically request_id.
func WithContext(ctx context.Context) *Entry {
	return newEntry(GetDefaultLogger()).WithContext(ctx)
}

package logx

import (
	"context"
	"fmt"
)

// Entry accumulates fields for a single log line. Entries are not safe for
// concurrent use; build one per call site.
type Entry struct {
	logger *Logger
	fields Fields
	err    error
}

func newEntry(logger *Logger) *Entry {
	return &Entry{logger: logger, fields: make(Fields)}
}

func (e *Entry) WithField(key string, value any) *Entry {
	e.fields[key] = value
	return e
}

func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

func (e *Entry) WithError(err error) *Entry {
	e.err = err
	return e
}

// WithContext merges fields stored with ContextWithFields. Fields already
// set on the entry win.
func (e *Entry) WithContext(ctx context.Context) *Entry {
	if ctx == nil {
		return e
	}
	if f, ok := ctx.Value(fieldsKey{}).(Fields); ok {
		for k, v := range f {
			if _, set := e.fields[k]; !set {
				e.fields[k] = v
			}
		}
	}
	return e
}

type fieldsKey struct{}

// ContextWithFields returns a context carrying fields that every
// WithContext(ctx) entry picks up.
func ContextWithFields(ctx context.Context, fields Fields) context.Context {
	merged := Fields{}
	if prev, ok := ctx.Value(fieldsKey{}).(Fields); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func (e *Entry) Debug(msg string) { e.logger.log(LevelDebug, msg, e.fields, e.err) }
func (e *Entry) Info(msg string)  { e.logger.log(LevelInfo, msg, e.fields, e.err) }
func (e *Entry) Warn(msg string)  { e.logger.log(LevelWarn, msg, e.fields, e.err) }
func (e *Entry) Error(msg string) { e.logger.log(LevelError, msg, e.fields, e.err) }

func (e *Entry) Debugf(format string, args ...any) {
	e.logger.log(LevelDebug, fmt.Sprintf(format, args...), e.fields, e.err)
}

func (e *Entry) Infof(format string, args ...any) {
	e.logger.log(LevelInfo, fmt.Sprintf(format, args...), e.fields, e.err)
}

func (e *Entry) Warnf(format string, args ...any) {
	e.logger.log(LevelWarn, fmt.Sprintf(format, args...), e.fields, e.err)
}

func (e *Entry) Errorf(format string, args ...any) {
	e.logger.log(LevelError, fmt.Sprintf(format, args...), e.fields, e.err)
}

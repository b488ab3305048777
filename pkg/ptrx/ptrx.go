package ptrx

import (
	"database/sql"
	"time"
)

// To returns a pointer to a copy of v.
func To[T any](v T) *T {
	return &v
}

// String returns a pointer value for the string value passed in.
func String(v string) *string {
	return &v
}

// Bool returns a pointer value for the bool value passed in.
func Bool(v bool) *bool {
	return &v
}

// Time returns a pointer value for the time.Time value passed in.
func Time(v time.Time) *time.Time {
	return &v
}

// ValueOr returns the value p points to, or def when p is nil.
func ValueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Clone returns a pointer to a copy of *p, or nil when p is nil. The copy
// is shallow.
func Clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NullString returns nil for a NULL column and a pointer to the value
// otherwise.
func NullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return String(ns.String)
}

// NullTime returns nil for a NULL column and a pointer to the value
// otherwise.
func NullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return Time(nt.Time)
}

// ToNullString maps nil to NULL.
func ToNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// ToNullTime maps nil to NULL.
func ToNullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

package ptrx

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOr(t *testing.T) {
	assert.True(t, ValueOr(nil, true))
	assert.False(t, ValueOr(Bool(false), true))
	assert.Equal(t, "x", ValueOr(String("x"), "y"))
}

func TestCloneDetaches(t *testing.T) {
	assert.Nil(t, Clone[string](nil))

	orig := String("a")
	cp := Clone(orig)
	*cp = "b"
	assert.Equal(t, "a", *orig)
}

func TestNullRoundTrip(t *testing.T) {
	assert.Nil(t, NullString(sql.NullString{}))
	assert.False(t, ToNullString(nil).Valid)

	s := NullString(sql.NullString{String: "tok", Valid: true})
	require.NotNil(t, s)
	assert.Equal(t, "tok", *s)

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	nt := ToNullTime(&now)
	assert.True(t, nt.Valid)
	assert.Equal(t, now, *NullTime(nt))
	assert.Nil(t, NullTime(sql.NullTime{}))
}

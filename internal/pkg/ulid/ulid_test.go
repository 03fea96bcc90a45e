package ulid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProducesValidMonotonicIDs(t *testing.T) {
	a := New()
	b := New()

	assert.True(t, IsValid(a))
	assert.True(t, IsValid(b))
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestNewFromTime_RoundTripsTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewFromTime(ts)

	got, err := Time(id)
	require.NoError(t, err)
	assert.WithinDuration(t, ts, got, time.Millisecond)
}

func TestIsValid_RejectsGarbage(t *testing.T) {
	assert.False(t, IsValid("not-a-ulid"))
	assert.False(t, IsValid(""))
}

func TestParse_RoundTrips(t *testing.T) {
	id := New()
	parsed, err := Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, parsed.String())
}

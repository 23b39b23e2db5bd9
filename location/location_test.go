package location

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsValidFix(t *testing.T) {
	rec, err := New(37.7749, -122.4194, 5, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 37.7749, rec.Lat)
	assert.Equal(t, -122.4194, rec.Lng)
}

func TestNewBoundaryLatLng(t *testing.T) {
	for _, tc := range []struct {
		lat, lng float64
	}{
		{90, 180},
		{-90, -180},
		{90, -180},
		{-90, 180},
	} {
		_, err := New(tc.lat, tc.lng, 0, time.Now())
		assert.NoError(t, err, "lat=%v lng=%v should be accepted", tc.lat, tc.lng)
	}
}

func TestNewRejectsOutOfRange(t *testing.T) {
	_, err := New(90.0001, 0, 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = New(0, 180.0001, 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = New(0, 0, -0.0001, time.Now())
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestNewRejectsNonFinite(t *testing.T) {
	_, err := New(math.NaN(), 0, 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = New(0, math.Inf(1), 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = New(0, 0, math.Inf(-1), time.Now())
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestAccuracyZeroAccepted(t *testing.T) {
	_, err := New(0, 0, 0, time.Now())
	assert.NoError(t, err)
}

func TestIsStale(t *testing.T) {
	rec, err := New(0, 0, 0, time.Now())
	require.NoError(t, err)

	assert.False(t, rec.IsStale(rec.ServerObservedAt.Add(DefaultTTL-time.Second), DefaultTTL))
	assert.True(t, rec.IsStale(rec.ServerObservedAt.Add(DefaultTTL+time.Second), DefaultTTL))
}

func TestSupersededBy(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	older, err := New(0, 0, 0, base)
	require.NoError(t, err)

	newer, err := New(0, 0, 0, base.Add(time.Second))
	require.NoError(t, err)
	replay, err := New(0, 0, 0, base)
	require.NoError(t, err)
	earlier, err := New(0, 0, 0, base.Add(-time.Second))
	require.NoError(t, err)

	assert.True(t, older.SupersededBy(newer))
	assert.False(t, older.SupersededBy(replay), "equal timestamp is a replay, not a successor")
	assert.False(t, older.SupersededBy(earlier))
}

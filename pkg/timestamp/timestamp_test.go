package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseNumericThreshold(t *testing.T) {
	// Values above 1e12 are already milliseconds; smaller positive values
	// are seconds.
	assert.Equal(t, int64(1735689600000), Parse(int64(1735689600000)))
	assert.Equal(t, int64(1735689600000), Parse(int64(1735689600)))
	assert.Equal(t, int64(1735689600000), Parse(float64(1735689600)))
	assert.Equal(t, int64(1735689600000), Parse(1735689600))
}

func TestParseStrings(t *testing.T) {
	assert.Equal(t, int64(1735689600000), Parse("2025-01-01T00:00:00Z"))
	assert.Equal(t, int64(1735689600500), Parse("2025-01-01T00:00:00.5Z"))
	assert.Equal(t, int64(1735689600000), Parse("1735689600"))
	assert.Zero(t, Parse("not a timestamp"))
	assert.Zero(t, Parse(""))
}

func TestParseTimeValue(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(1735689600000), Parse(ts))
	assert.Zero(t, Parse(time.Time{}))
}

func TestParseUnsupported(t *testing.T) {
	assert.Zero(t, Parse(nil))
	assert.Zero(t, Parse(true))
	assert.Zero(t, Parse([]string{"x"}))
	assert.Zero(t, Parse(int64(-5)))
	assert.Zero(t, Parse(int64(0)))
}

func TestToTimeRoundTrip(t *testing.T) {
	ms := int64(1735689600000)
	assert.Equal(t, ms, ToUnixMs(ToTime(ms)))
	assert.True(t, ToTime(0).IsZero())
	assert.Zero(t, ToUnixMs(time.Time{}))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2025-01-01T00:00:00Z", Format(1735689600000))
	assert.Empty(t, Format(0))
}

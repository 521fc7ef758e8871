package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleFromStrings(t *testing.T) {
	c, err := CandleFromStrings(1000, "1.0", "2.0", "0.5", "1.5", "42.5")
	require.NoError(t, err)

	assert.Equal(t, int64(1000), c.OpenTime)
	assert.Equal(t, 1.0, c.Open)
	assert.Equal(t, 2.0, c.High)
	assert.Equal(t, 0.5, c.Low)
	assert.Equal(t, 1.5, c.Close)
	require.NotNil(t, c.Volume)
	assert.Equal(t, 42.5, *c.Volume)
}

func TestCandleFromStringsRejectsBadClose(t *testing.T) {
	_, err := CandleFromStrings(1000, "1.0", "2.0", "0.5", "oops", "42.5")
	require.Error(t, err)
}

func TestCandleFromStringsRejectsNonFinitePrice(t *testing.T) {
	for _, bad := range []string{"NaN", "Inf", "-Inf"} {
		_, err := CandleFromStrings(1000, bad, "2.0", "0.5", "1.5", "")
		require.Error(t, err, "price %q must reject the candle", bad)
	}
}

func TestCandleFromStringsVolumeDegradesToAbsent(t *testing.T) {
	for _, bad := range []string{"", "abc", "NaN"} {
		c, err := CandleFromStrings(1000, "1.0", "2.0", "0.5", "1.5", bad)
		require.NoError(t, err, "volume %q must not reject the candle", bad)
		assert.Nil(t, c.Volume)
	}
}

func TestParseCandleTime(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1700000000000", 1700000000000},
		{"1970-01-01T00:00:01Z", 1000},
		{"1970-01-01 00:00:01", 1000},
	}
	for _, tt := range tests {
		got, err := ParseCandleTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseCandleTime("not-a-time")
	require.Error(t, err)
}

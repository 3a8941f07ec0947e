package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangePercent(t *testing.T) {
	r := Range{Min: 0, Max: 28000}

	testCases := []struct {
		name    string
		value   uint16
		percent int
		wantErr bool
	}{
		{name: "minimum", value: 0, percent: 0},
		{name: "maximum", value: 28000, percent: 100},
		{name: "half", value: 14000, percent: 50},
		{name: "floor rounding", value: 419, percent: 1}, // 419/28000 = 1.496%
		{name: "above maximum", value: 28001, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			percent, err := r.Percent(tc.value)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "out of range")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.percent, percent)
		})
	}
}

func TestRangePercentBelowMin(t *testing.T) {
	r := Range{Min: 100, Max: 1000}
	_, err := r.Percent(99)
	require.Error(t, err)
	assert.EqualError(t, err, "value out of range: 99 (range: 100-1000)")
}

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeBounds_Empty(t *testing.T) {
	assert.Equal(t, defaultPowerBounds(), ComputeBounds(nil))
}

func TestComputeBounds_NarrowSpreadIsWidened(t *testing.T) {
	b := ComputeBounds([]float64{-50, -50, -50, -50})

	assert.Equal(t, -56.0, b.Min)
	assert.Equal(t, -44.0, b.Max)
	assert.Equal(t, -50.0, b.Mean)
}

func TestComputeBounds_OutliersAreClipped(t *testing.T) {
	values := make([]float64, 0, 101)
	for i := 0; i <= 100; i++ {
		values = append(values, -80+float64(i)*0.4) // -80 to -40
	}
	values[100] = 10 // one hot outlier

	b := ComputeBounds(values)

	assert.Less(t, b.Min, -76.0)
	assert.Greater(t, b.Min, -85.0)
	assert.Greater(t, b.Max, -44.0)
	assert.Less(t, b.Max, 0.0)
	assert.Less(t, b.Min, b.Mean)
	assert.Less(t, b.Mean, b.Max)
}

func TestPowerBounds_Override(t *testing.T) {
	lo, hi := -90.0, -10.0
	b := PowerBounds{Min: -60, Max: -40}

	assert.Equal(t, PowerBounds{Min: -90, Max: -40}, b.Override(&lo, nil))
	assert.Equal(t, PowerBounds{Min: -60, Max: -10}, b.Override(nil, &hi))
	assert.Equal(t, b, b.Override(nil, nil))
}

package app

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

const (
	defaultMinPower = -100.0 // dBm
	defaultMaxPower = -20.0  // dBm

	// near-field maps span far less than a spectrum waterfall
	minimumPowerRange = 10.0 // dB
	boundsMargin      = 0.1
)

// PowerBounds represents the value range mapped onto the colour gradient.
type PowerBounds struct {
	Min  float64 // lower bound in dBm
	Max  float64 // upper bound in dBm
	Mean float64 // arithmetic mean of the readings in dBm
}

func defaultPowerBounds() PowerBounds {
	return PowerBounds{
		Min:  defaultMinPower,
		Max:  defaultMaxPower,
		Mean: (defaultMinPower + defaultMaxPower) / 2,
	}
}

// ComputeBounds derives bounds from the 5th and 95th percentiles of values,
// widened to a minimum range and padded with a margin.
func ComputeBounds(values []float64) PowerBounds {
	if len(values) == 0 {
		return defaultPowerBounds()
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	lo := stat.Quantile(0.05, stat.Empirical, sorted, nil)
	hi := stat.Quantile(0.95, stat.Empirical, sorted, nil)

	if hi-lo < minimumPowerRange {
		center := (hi + lo) / 2
		lo = center - minimumPowerRange/2
		hi = center + minimumPowerRange/2
	}

	margin := (hi - lo) * boundsMargin
	return PowerBounds{
		Min:  math.Floor(lo - margin),
		Max:  math.Ceil(hi + margin),
		Mean: stat.Mean(sorted, nil),
	}
}

// angleBounds covers the full range of the advisory angle in degrees.
func angleBounds() PowerBounds {
	return PowerBounds{Min: -180, Max: 180}
}

// Override replaces either bound with a manual value.
func (b PowerBounds) Override(min, max *float64) PowerBounds {
	if min != nil {
		b.Min = *min
	}
	if max != nil {
		b.Max = *max
	}
	return b
}

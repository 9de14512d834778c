package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformScan(o Orientation, n int, dbm float64) *OrientationScan {
	s := &OrientationScan{Orientation: o, Metadata: Metadata{Orientation: o}}
	for i := 0; i < n; i++ {
		s.Measurements = append(s.Measurements, Measurement{X: float64(i) * 0.1, Y: 0, Reading: Present(dbm)})
	}
	return s
}

func TestCombine_IdenticalScans(t *testing.T) {
	for _, dbm := range []float64{-90, -60, -50, -12.5, 0, 7} {
		s0 := uniformScan(Orientation0, 12, dbm)
		s90 := uniformScan(Orientation90, 12, dbm)

		cf, err := Combine(s0, s90, nil)
		require.NoError(t, err)
		require.Len(t, cf.Cells, 12)
		assert.False(t, cf.HasAngle)

		want := dbm + 10*math.Log10(math.Sqrt2)
		for i, c := range cf.Cells {
			got, ok := c.Intensity.Value()
			require.True(t, ok, "cell %d", i)
			assert.InDelta(t, want, got, 1e-9, "cell %d", i)
			assert.False(t, c.Angle.IsPresent())
		}
	}
}

func TestCombine_Scenario60(t *testing.T) {
	cf, err := Combine(uniformScan(Orientation0, 5, -60), uniformScan(Orientation90, 5, -60), nil)
	require.NoError(t, err)

	for _, c := range cf.Cells {
		got, ok := c.Intensity.Value()
		require.True(t, ok)
		assert.InDelta(t, -60+10*math.Log10(math.Sqrt2), got, 1e-9)
		assert.InDelta(t, -58.49, got, 0.01)
	}
}

func TestCombine_LengthMismatch(t *testing.T) {
	_, err := Combine(uniformScan(Orientation0, 10, -50), uniformScan(Orientation90, 9, -50), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestCombine_CoordinateMismatch(t *testing.T) {
	s0 := uniformScan(Orientation0, 4, -50)
	s90 := uniformScan(Orientation90, 4, -50)
	s90.Measurements[2].Y = 0.5

	_, err := Combine(s0, s90, nil)
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestCombine_MissingRequired(t *testing.T) {
	_, err := Combine(uniformScan(Orientation0, 4, -50), nil, nil)
	assert.Error(t, err)
}

func TestCombine_AbsentPropagates(t *testing.T) {
	s0 := uniformScan(Orientation0, 3, -50)
	s90 := uniformScan(Orientation90, 3, -50)
	s0.Measurements[0].Reading = Absent()
	s90.Measurements[2].Reading = Absent()

	cf, err := Combine(s0, s90, nil)
	require.NoError(t, err)

	assert.False(t, cf.Cells[0].Intensity.IsPresent())
	assert.True(t, cf.Cells[1].Intensity.IsPresent())
	assert.False(t, cf.Cells[2].Intensity.IsPresent())
}

func TestCombine_Angle(t *testing.T) {
	s0 := uniformScan(Orientation0, 3, -60)
	s90 := uniformScan(Orientation90, 3, -50)
	s45 := uniformScan(Orientation45, 3, -55)
	s45.Measurements[1].Reading = Absent()

	cf, err := Combine(s0, s90, s45)
	require.NoError(t, err)
	require.True(t, cf.HasAngle)

	p0, p90, p45 := math.Pow(10, -6), math.Pow(10, -5), math.Pow(10, -5.5)
	want := math.Atan2(p90-p0, p45)

	got, ok := cf.Cells[0].Angle.Value()
	require.True(t, ok)
	assert.InDelta(t, want, got, 1e-12)
	assert.False(t, cf.Cells[1].Angle.IsPresent())
	assert.True(t, cf.Cells[1].Intensity.IsPresent())
}

func TestCombine_MisalignedAngleScanIsIgnored(t *testing.T) {
	cf, err := Combine(uniformScan(Orientation0, 3, -60), uniformScan(Orientation90, 3, -60), uniformScan(Orientation45, 2, -60))
	require.NoError(t, err)
	assert.False(t, cf.HasAngle)
	for _, c := range cf.Cells {
		assert.False(t, c.Angle.IsPresent())
	}
}

func TestSummarize(t *testing.T) {
	ms := []Measurement{
		{Reading: Present(-50)},
		{Reading: Absent()},
		{Reading: Present(-70)},
	}

	s := Summarize(ms)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Valid)

	minV, _ := s.Min.Value()
	maxV, _ := s.Max.Value()
	mean, _ := s.Mean.Value()
	assert.Equal(t, -70.0, minV)
	assert.Equal(t, -50.0, maxV)
	assert.InDelta(t, 10*math.Log10((1e-5+1e-7)/2), mean, 1e-9)
	assert.False(t, s.AllAbsent())

	empty := Summarize([]Measurement{{}, {}})
	assert.True(t, empty.AllAbsent())
	assert.False(t, empty.Mean.IsPresent())
}

func TestMeanDBm_LinearDiffersFromDBm(t *testing.T) {
	values := []float64{-50, -60, -70}

	got, ok := MeanDBm(values).Value()
	require.True(t, ok)

	arithmetic := (-50.0 - 60.0 - 70.0) / 3
	assert.Greater(t, math.Abs(got-arithmetic), 1.0)
	assert.InDelta(t, 10*math.Log10((1e-5+1e-6+1e-7)/3), got, 1e-9)

	reversed, _ := MeanDBm([]float64{-70, -50, -60}).Value()
	assert.InDelta(t, got, reversed, 1e-12)

	assert.False(t, MeanDBm(nil).IsPresent())
}

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

func TestPaths(t *testing.T) {
	p := NewPaths("out/scan_400MHz.json")
	assert.Equal(t, "out/scan_400MHz_0d.json", p.Orientation(field.Orientation0))
	assert.Equal(t, "out/scan_400MHz_45d.json", p.Orientation(field.Orientation45))
	assert.Equal(t, "out/scan_400MHz_90d.json", p.Orientation(field.Orientation90))
	assert.Equal(t, "out/scan_400MHz_combined.json", p.Combined())

	assert.Equal(t, "scan_combined.json", NewPaths("scan").Combined())
}

func testScan() *field.OrientationScan {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &field.OrientationScan{
		Orientation: field.Orientation90,
		Metadata: field.Metadata{
			BoardSize:       [2]float64{2.165, 1.53},
			Resolution:      30,
			CenterFrequency: 400e6,
			Bandwidth:       10e6,
			Averages:        100,
			Gain:            76,
			StartedAt:       started,
		},
		Measurements: []field.Measurement{
			{X: 0, Y: 0, Reading: field.Present(-52.25)},
			{X: 1.0 / 30, Y: 0, Reading: field.Absent()},
			{X: 2.0 / 30, Y: 0, Reading: field.Present(-61)},
		},
	}
}

func TestSaveOrientation_Document(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan_90d.json")
	require.NoError(t, SaveOrientation(path, testScan()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc, 2)
	assert.Contains(t, doc, "metadata")
	assert.Contains(t, doc, "results")

	var results []map[string]any
	require.NoError(t, json.Unmarshal(doc["results"], &results))
	require.Len(t, results, 3)
	assert.Nil(t, results[1]["field_strength"])
	assert.InDelta(t, 2.0/3000, results[2]["x"], 1e-12)
	assert.NotContains(t, results[0], "angle")

	var meta map[string]any
	require.NoError(t, json.Unmarshal(doc["metadata"], &meta))
	assert.EqualValues(t, 90, meta["orientation"])
	assert.EqualValues(t, 100, meta["nb_average"])
	assert.Contains(t, meta, "PCB_SIZE")
}

func TestLoadOrientation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan_90d.json")
	want := testScan()
	want.Metadata.Orientation = field.Orientation90
	require.NoError(t, SaveOrientation(path, want))

	got, err := LoadOrientation(path)
	require.NoError(t, err)

	opts := cmp.Options{
		cmp.AllowUnexported(field.Reading{}),
		cmp.Comparer(func(a, b float64) bool { return a == b || (a-b < 1e-9 && b-a < 1e-9) }),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("scan mismatch (-want +got):\n%s", diff)
	}
}

func TestCombinedArtifact(t *testing.T) {
	dir := t.TempDir()

	cf := &field.CombinedField{
		Cells: []field.CombinedCell{
			{X: 0, Y: 0, Intensity: field.Present(-48.5), Angle: field.Present(0.25)},
			{X: 0.5, Y: 0, Intensity: field.Absent()},
		},
		HasAngle: true,
	}

	path := filepath.Join(dir, "with_angle.json")
	require.NoError(t, SaveCombined(path, cf))

	got, err := LoadCombined(path)
	require.NoError(t, err)
	assert.True(t, got.HasAngle)
	v, ok := got.Cells[0].Angle.Value()
	require.True(t, ok)
	assert.Equal(t, 0.25, v)
	assert.False(t, got.Cells[1].Intensity.IsPresent())

	cf.HasAngle = false
	path = filepath.Join(dir, "without_angle.json")
	require.NoError(t, SaveCombined(path, cf))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "angle")

	got, err = LoadCombined(path)
	require.NoError(t, err)
	assert.False(t, got.HasAngle)
}

func TestSave_NoTemporaryFilesLeft(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveOrientation(filepath.Join(dir, "scan_0d.json"), testScan()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "scan_0d.json", entries[0].Name())
}

func TestLoadOrientation_Missing(t *testing.T) {
	_, err := LoadOrientation(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

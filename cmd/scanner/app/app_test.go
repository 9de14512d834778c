package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
	"github.com/roman-kulish/nearfield-scanner/internal/storage"
)

func TestRun_Simulated(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "board.json")

	config, err := ParseConfig([]byte(fmt.Sprintf(`
settings:
  logLevel: error
scan:
  boardWidth: 1
  boardHeight: 1
  resolution: 1
sampler:
  samplesPerAttempt: 2
  discardCount: 1
  bufferSize: 256
storage:
  output: %s
  archive: true
simulator:
  background: -80
  jitter: 0.01
  seed: 3
  hotspots:
    - {x: 5, y: 5, sigma: 3, power: -40}
`, output)), Simulated())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err = Run(context.Background(), config, logger, WithTerminal(strings.NewReader(""), io.Discard), AutoConfirm(true))
	require.NoError(t, err)

	paths := storage.NewPaths(output)
	for _, o := range []field.Orientation{field.Orientation0, field.Orientation45, field.Orientation90} {
		s, err := storage.LoadOrientation(paths.Orientation(o))
		require.NoError(t, err, "orientation %s", o)
		assert.Equal(t, 4, s.Len())
		assert.Equal(t, 4, s.Valid())
	}

	cf, err := storage.LoadCombined(paths.Combined())
	require.NoError(t, err)
	require.Len(t, cf.Cells, 4)
	assert.True(t, cf.HasAngle)

	// the probe origin is (0, 0) at the default probing height
	want := sdr.NewSimulator(config.Simulator, config.Radio.Gain, nil).FieldAt(0, 0) + 10*math.Log10(math.Sqrt2)
	got, ok := cf.Cells[0].Intensity.Value()
	require.True(t, ok)
	assert.InDelta(t, want, got, 0.2)

	archive := storage.NewSqliteStore(config.Storage.DBPath)
	defer archive.Close()

	runs, err := archive.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, output, runs[0].BaseName)

	scan90, err := archive.LoadOrientation(context.Background(), runs[0].ID, field.Orientation90)
	require.NoError(t, err)
	assert.Equal(t, 4, scan90.Len())
}

func TestLazyPosition(t *testing.T) {
	p := &lazyPosition{}
	x, y, z := p.Position()
	assert.Zero(t, x+y+z)
}

func TestFileArtifacts(t *testing.T) {
	base := filepath.Join(t.TempDir(), "scan.json")
	a := newFileArtifacts(base, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s := &field.OrientationScan{
		Orientation:  field.Orientation45,
		Metadata:     field.Metadata{Orientation: field.Orientation45},
		Measurements: []field.Measurement{{X: 0, Y: 0, Reading: field.Present(-61)}},
	}
	require.NoError(t, a.SaveOrientation(s))

	back, err := storage.LoadOrientation(filepath.Join(filepath.Dir(base), "scan_45d.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, back.Len())
}

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "archive.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rowOf(n int, y float64, dbm float64) []field.Measurement {
	ms := make([]field.Measurement, n)
	for i := range ms {
		ms[i] = field.Measurement{X: float64(i) * 0.5, Y: y, Reading: field.Present(dbm)}
	}
	return ms
}

func TestSqliteStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateRun(ctx, "scan.json", map[string]any{"gain": 76})
	require.NoError(t, err)
	second, err := s.CreateRun(ctx, "other.json", nil)
	require.NoError(t, err)

	_, err = uuid.Parse(first.UUID)
	assert.NoError(t, err)
	assert.NotEqual(t, first.UUID, second.UUID)

	got, err := s.Run(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "scan.json", got.BaseName)
	require.NotNil(t, got.Config)
	assert.JSONEq(t, `{"gain":76}`, *got.Config)
	assert.WithinDuration(t, first.StartedAt, got.StartedAt, time.Second)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.ID, runs[0].ID)
	assert.Nil(t, runs[1].Config)

	_, err = s.Run(ctx, 999)
	assert.Error(t, err)
}

func TestSqliteStore_Measurements(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run, err := s.CreateRun(ctx, "scan.json", nil)
	require.NoError(t, err)

	// larger than one batch
	ms := rowOf(1203, 0, -50)
	ms[7].Reading = field.Absent()
	require.NoError(t, s.StoreMeasurements(ctx, run.ID, field.Orientation0, 0, ms))
	require.NoError(t, s.StoreMeasurements(ctx, run.ID, field.Orientation90, 0, rowOf(3, 0, -60)))

	scan, err := s.LoadOrientation(ctx, run.ID, field.Orientation0)
	require.NoError(t, err)
	require.Len(t, scan.Measurements, 1203)
	assert.False(t, scan.Measurements[7].Reading.IsPresent())
	assert.Equal(t, 3.5, scan.Measurements[7].X)

	reader, err := s.ReadMeasurements(ctx, run.ID, WithOrientation(field.Orientation0), WithPresentOnly())
	require.NoError(t, err)

	var n int
	for reader.Next(ctx) {
		rec := reader.Current()
		assert.Equal(t, field.Orientation0, rec.Orientation)
		assert.True(t, rec.Measurement.Reading.IsPresent())
		n++
	}
	require.NoError(t, reader.Error())
	require.NoError(t, reader.Close())
	assert.Equal(t, 1202, n)
	assert.Equal(t, run.ID, reader.Run().ID)
}

func TestSqliteStore_RowsAppendAndReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run, err := s.CreateRun(ctx, "scan.json", nil)
	require.NoError(t, err)

	require.NoError(t, s.StoreMeasurements(ctx, run.ID, field.Orientation45, 0, rowOf(4, 0, -70)))
	require.NoError(t, s.StoreMeasurements(ctx, run.ID, field.Orientation45, 4, rowOf(4, 0.5, -70)))
	require.NoError(t, s.StoreMeasurements(ctx, run.ID, field.Orientation45, 0, rowOf(4, 0, -40)))

	scan, err := s.LoadOrientation(ctx, run.ID, field.Orientation45)
	require.NoError(t, err)
	require.Len(t, scan.Measurements, 8)

	v, _ := scan.Measurements[0].Reading.Value()
	assert.Equal(t, -40.0, v)
	assert.Equal(t, 0.5, scan.Measurements[4].Y)
}

func TestSqliteStore_LoadOrientationEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run, err := s.CreateRun(ctx, "scan.json", nil)
	require.NoError(t, err)

	_, err = s.LoadOrientation(ctx, run.ID, field.Orientation90)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSqliteStore_TimeRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run, err := s.CreateRun(ctx, "scan.json", nil)
	require.NoError(t, err)
	require.NoError(t, s.StoreMeasurements(ctx, run.ID, field.Orientation0, 0, rowOf(3, 0, -50)))

	_, err = s.ReadMeasurements(ctx, run.ID, WithTimeRange(time.Now(), time.Now().Add(-time.Hour)))
	assert.Error(t, err)

	reader, err := s.ReadMeasurements(ctx, run.ID, WithTimeRange(time.Now().Add(time.Hour), time.Now().Add(2*time.Hour)))
	require.NoError(t, err)
	defer reader.Close()
	assert.False(t, reader.Next(ctx))
	assert.NoError(t, reader.Error())
}

func TestSqliteStore_CloseTwice(t *testing.T) {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "archive.db"))

	_, err := s.CreateRun(context.Background(), "scan.json", "raw config")
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

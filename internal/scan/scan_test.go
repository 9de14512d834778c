package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/grid"
)

type move struct{ X, Y, Z, F float64 }

type fakeStage struct {
	moves    []move
	waitErr  error
	waits    int
	failFrom int // fail every wait once this many moves were made, 0 disables
}

func (s *fakeStage) Move(_ context.Context, x, y, z, f float64) error {
	s.moves = append(s.moves, move{x, y, z, f})
	return nil
}

func (s *fakeStage) WaitForMotionComplete(context.Context) error {
	s.waits++
	if s.failFrom > 0 && len(s.moves) >= s.failFrom {
		return s.waitErr
	}
	return nil
}

type fakeMeter struct {
	reading  field.Reading
	flushed  int
	measured int
}

func (m *fakeMeter) Flush(_ context.Context, n int) {
	m.flushed += n
}

func (m *fakeMeter) Measure(context.Context) field.Reading {
	m.measured++
	return m.reading
}

func TestScan_ConstantField(t *testing.T) {
	g, err := grid.Build(10, 0.5, 2)
	require.NoError(t, err)

	meter := &fakeMeter{reading: field.Present(-50)}
	c := NewController(&fakeStage{}, meter, Config{FlushCount: 2})

	var rows []int
	s, err := c.Scan(context.Background(), g, field.Orientation0, field.Metadata{}, func(_ field.Orientation, row int, _ []field.Measurement) {
		rows = append(rows, row)
	})
	require.NoError(t, err)

	require.Len(t, s.Measurements, 42)
	for _, m := range s.Measurements {
		v, ok := m.Reading.Value()
		require.True(t, ok)
		assert.Equal(t, -50.0, v)
	}

	assert.Equal(t, []int{0, 1}, rows)
	assert.Equal(t, 84, meter.flushed)
	assert.False(t, s.Metadata.Interrupted)
	assert.NotNil(t, s.Metadata.CompletedAt)
	assert.Equal(t, field.Orientation0, s.Metadata.Orientation)
	assert.Equal(t, Complete, Outcome(s))
}

func TestScan_MoveOrder(t *testing.T) {
	g, err := grid.Build(1, 0.5, 2)
	require.NoError(t, err)

	stage := &fakeStage{}
	c := NewController(stage, &fakeMeter{reading: field.Present(-70)}, Config{}).
		WithOrigin(Offset{X: 100, Y: 50, Z: 3})

	_, err = c.Scan(context.Background(), g, field.Orientation90, field.Metadata{}, nil)
	require.NoError(t, err)

	want := []move{
		{100, 50, 3, DefaultFeedrate},
		{105, 50, 3, DefaultFeedrate},
		{110, 50, 3, DefaultFeedrate},
		{100, 55, 3, DefaultFeedrate},
		{105, 55, 3, DefaultFeedrate},
		{110, 55, 3, DefaultFeedrate},
	}
	if diff := cmp.Diff(want, stage.moves); diff != "" {
		t.Errorf("moves mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, len(want), stage.waits)
}

func TestScan_InterruptAfterTwoRows(t *testing.T) {
	g, err := grid.Build(1, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 5, g.Rows())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meter := &fakeMeter{reading: field.Present(-60)}
	c := NewController(&fakeStage{}, meter, Config{})

	s, err := c.Scan(ctx, g, field.Orientation0, field.Metadata{}, func(_ field.Orientation, row int, _ []field.Measurement) {
		if row == 1 {
			cancel()
		}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, s.Measurements, 2*g.Cols())
	assert.Equal(t, 2*g.Cols(), meter.measured)
	assert.True(t, s.Metadata.Interrupted)
	assert.Nil(t, s.Metadata.CompletedAt)
	assert.Equal(t, Partial, Outcome(s))
	assert.Len(t, s.Rows(g.Cols()), 2)
}

func TestScan_MotionFailureAborts(t *testing.T) {
	g, err := grid.Build(1, 0.5, 2)
	require.NoError(t, err)

	timeout := errors.New("motion timed out")
	stage := &fakeStage{failFrom: 4, waitErr: timeout}
	c := NewController(stage, &fakeMeter{reading: field.Present(-60)}, Config{MoveAttempts: 2})

	s, err := c.Scan(context.Background(), g, field.Orientation0, field.Metadata{}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, timeout)
	assert.NotErrorIs(t, err, ErrInterrupted)
	assert.Len(t, s.Measurements, 3)
	assert.True(t, s.Metadata.Interrupted)
	assert.Len(t, stage.moves, 5) // the failing cell was tried twice
}

func TestScan_AbsentFirstRowContinues(t *testing.T) {
	g, err := grid.Build(1, 0.5, 2)
	require.NoError(t, err)

	c := NewController(&fakeStage{}, &fakeMeter{reading: field.Absent()}, Config{})

	s, err := c.Scan(context.Background(), g, field.Orientation45, field.Metadata{}, nil)
	require.NoError(t, err)
	assert.Len(t, s.Measurements, g.Len())
	assert.Equal(t, Empty, Outcome(s))
}

func TestOutcome_Nil(t *testing.T) {
	assert.Equal(t, Empty, Outcome(nil))
	assert.Equal(t, "partial", Partial.String())
}

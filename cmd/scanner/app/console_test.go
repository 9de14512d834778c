package app

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/scan"
	"github.com/roman-kulish/nearfield-scanner/internal/stage"
)

type jog struct {
	axis  stage.Axis
	delta float64
}

type move struct {
	x, y, z, feedrate float64
}

type fakeProbe struct {
	moves []move
	jogs  []jog
	waits int
}

func (p *fakeProbe) Move(_ context.Context, x, y, z, feedrate float64) error {
	p.moves = append(p.moves, move{x, y, z, feedrate})
	return nil
}

func (p *fakeProbe) WaitForMotionComplete(context.Context) error {
	p.waits++
	return nil
}

func (p *fakeProbe) Jog(_ context.Context, axis stage.Axis, delta float64) error {
	p.jogs = append(p.jogs, jog{axis, delta})
	return nil
}

var testProbeConfig = ProbeConfig{
	BoardWidth:     20,
	BoardHeight:    10,
	InitialZ:       5,
	Lift:           1,
	ComponentX:     4,
	ComponentY:     3,
	Feedrate:       3000,
	PerimeterSpeed: 800,
}

func TestConsole_AutoConfirm(t *testing.T) {
	probe := &fakeProbe{}
	c := NewConsole(strings.NewReader(""), io.Discard, probe, testProbeConfig, WithAutoConfirm())

	origin, err := c.AdjustProbe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scan.Offset{Z: 5}, origin)

	require.Len(t, probe.moves, 3)
	assert.Equal(t, move{0, 0, 6, 3000}, probe.moves[0])
	assert.Equal(t, move{0, 0, 5, 3000}, probe.moves[2])

	assert.NoError(t, c.ConfirmRotation(context.Background(), field.Orientation45))
}

func TestConsole_AdjustProbe(t *testing.T) {
	probe := &fakeProbe{}
	var out bytes.Buffer
	input := "x+10\ny-0.5\nz+1\ncorner 3\nbogus\nx+20\ncorner 9\n\ndone\n"

	c := NewConsole(strings.NewReader(input), &out, probe, testProbeConfig)

	origin, err := c.AdjustProbe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scan.Offset{X: 10, Y: -0.5, Z: 6}, origin)

	assert.Equal(t, []jog{{stage.AxisX, 10}, {stage.AxisY, -0.5}, {stage.AxisZ, 1}}, probe.jogs)

	// corner 3 is the far corner of the board, relative to the adjusted origin
	assert.Contains(t, probe.moves, move{30, 9.5, 6, 3000})

	// the probe returns to the origin at probing height
	last := probe.moves[len(probe.moves)-1]
	assert.Equal(t, move{10, -0.5, 6, 3000}, last)

	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Contains(t, out.String(), `invalid jog "x+20"`)
	assert.Contains(t, out.String(), `unknown corner "9"`)
}

func TestConsole_CloseReleasesReader(t *testing.T) {
	c := NewConsole(strings.NewReader("done\nleftover\nmore\n"), io.Discard, &fakeProbe{}, testProbeConfig)

	_, err := c.AdjustProbe(context.Background())
	require.NoError(t, err)

	c.Close()
	c.Close()

	select {
	case <-c.readerDone:
	case <-time.After(time.Second):
		t.Fatal("input reader still running after Close")
	}
}

func TestConsole_Perimeter(t *testing.T) {
	probe := &fakeProbe{}
	c := NewConsole(strings.NewReader("perimeter\ndone\n"), io.Discard, probe, testProbeConfig)

	_, err := c.AdjustProbe(context.Background())
	require.NoError(t, err)

	var outline []move
	for _, m := range probe.moves {
		if m.feedrate == testProbeConfig.PerimeterSpeed {
			outline = append(outline, m)
		}
	}

	assert.Equal(t, []move{
		{0, 0, 6, 800},
		{20, 0, 6, 800},
		{20, 10, 6, 800},
		{0, 10, 6, 800},
		{0, 0, 6, 800},
	}, outline)
}

func TestConsole_Component(t *testing.T) {
	probe := &fakeProbe{}
	c := NewConsole(strings.NewReader("component\ndone\n"), io.Discard, probe, testProbeConfig)

	_, err := c.AdjustProbe(context.Background())
	require.NoError(t, err)
	assert.Contains(t, probe.moves, move{4, 3, 5, 3000})
}

func TestConsole_Quit(t *testing.T) {
	c := NewConsole(strings.NewReader("quit\n"), io.Discard, &fakeProbe{}, testProbeConfig)

	_, err := c.AdjustProbe(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
}

func TestConsole_EndOfInput(t *testing.T) {
	c := NewConsole(strings.NewReader("x+1\n"), io.Discard, &fakeProbe{}, testProbeConfig)

	_, err := c.AdjustProbe(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConsole_ConfirmRotation(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("\nq\n"), &out, &fakeProbe{}, testProbeConfig)

	require.NoError(t, c.ConfirmRotation(context.Background(), field.Orientation45))
	assert.Contains(t, out.String(), "rotate the probe to 45°")

	assert.ErrorIs(t, c.ConfirmRotation(context.Background(), field.Orientation90), ErrAborted)
}

func TestConsole_ConfirmRotationHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })

	c := NewConsole(r, io.Discard, &fakeProbe{}, testProbeConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.ConfirmRotation(ctx, field.Orientation90), context.DeadlineExceeded)
}

func TestConsole_Display(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out, &fakeProbe{}, testProbeConfig)

	cf := &field.CombinedField{
		Metadata: field.Metadata{CenterFrequency: 400e6},
		Cells: []field.CombinedCell{
			{Intensity: field.Present(-50)},
			{Intensity: field.Absent()},
		},
		HasAngle: true,
	}

	require.NoError(t, c.Display(context.Background(), cf))
	assert.Contains(t, out.String(), "400 MHz")
	assert.Contains(t, out.String(), "1 of 2 cells valid")
	assert.Contains(t, out.String(), "angle estimated: true")
}

func TestConsole_Live(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out, &fakeProbe{}, testProbeConfig)

	c.Live(field.Present(-42.5))
	c.Live(field.Absent())

	assert.Contains(t, out.String(), "power: -42.50 dBm")
	assert.Contains(t, out.String(), "power: absent")
}

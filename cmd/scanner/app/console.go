package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/scan"
	"github.com/roman-kulish/nearfield-scanner/internal/stage"
)

// maxJog bounds a single jog, in millimetres.
const maxJog = 10

// ErrAborted is returned when the operator quits the run.
var ErrAborted = errors.New("aborted by operator")

const consoleHelp = `commands:
  x+10 y-1 z+0.1   jog an axis by up to 10 mm
  corner <1-4>     visit a board corner (1 bottom-left, 2 bottom-right, 3 top-right, 4 top-left)
  component        visit the tallest component
  perimeter        trace the board outline
  done             accept the current position as the board origin
  quit             abort the run`

// Probe is the stage as seen by the operator.
type Probe interface {
	Move(ctx context.Context, x, y, z, feedrate float64) error
	WaitForMotionComplete(ctx context.Context) error
	Jog(ctx context.Context, axis stage.Axis, delta float64) error
}

// WithAutoConfirm makes the console accept the default origin and every
// rotation without waiting for input.
func WithAutoConfirm() func(c *Console) {
	return func(c *Console) {
		c.auto = true
	}
}

// WithConsoleLogger sets the logger for the console
func WithConsoleLogger(logger *slog.Logger) func(c *Console) {
	return func(c *Console) {
		c.logger = logger
	}
}

// Console is an Operator reading commands from a terminal.
type Console struct {
	in     io.Reader
	probe  Probe
	config ProbeConfig
	auto   bool

	outMu sync.Mutex
	out   io.Writer

	startReader sync.Once
	closeOnce   sync.Once
	lines       chan string
	done        chan struct{} // closed by Close
	readerDone  chan struct{} // closed when the reader goroutine exits

	// offset is the stage position of the board origin; here is the
	// board-local point the head is over, in millimetres.
	offset scan.Offset
	here   [2]float64

	logger *slog.Logger
}

func NewConsole(in io.Reader, out io.Writer, probe Probe, config ProbeConfig, options ...func(c *Console)) *Console {
	c := Console{
		in:         in,
		out:        out,
		probe:      probe,
		config:     config,
		lines:      make(chan string),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		offset:     scan.Offset{Z: config.InitialZ},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	c.startReader.Do(func() {
		go func() {
			defer close(c.readerDone)
			defer close(c.lines)

			scanner := bufio.NewScanner(c.in)
			for scanner.Scan() {
				select {
				case c.lines <- scanner.Text():
				case <-c.done:
					return
				}
			}
		}()
	})

	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops reading input. A reader blocked on the terminal exits after
// the next line.
func (c *Console) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Console) AdjustProbe(ctx context.Context) (scan.Offset, error) {
	if err := c.travel(ctx, 0, 0, c.config.Feedrate); err != nil {
		return scan.Offset{}, err
	}

	if c.auto {
		c.logger.Info("probe origin accepted", slog.Float64("z", c.offset.Z))
		return c.offset, nil
	}

	c.printf("%s\n", consoleHelp)
	for {
		c.printf("adjust> ")

		line, err := c.readLine(ctx)
		if err != nil {
			return scan.Offset{}, err
		}

		done, err := c.execute(ctx, line)
		if err != nil {
			if errors.Is(err, ErrAborted) || ctx.Err() != nil {
				return scan.Offset{}, err
			}
			c.printf("error: %s\n", err)
			continue
		}
		if done {
			break
		}
	}

	if err := c.travel(ctx, 0, 0, c.config.Feedrate); err != nil {
		return scan.Offset{}, err
	}
	return c.offset, nil
}

func (c *Console) execute(ctx context.Context, line string) (done bool, err error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}

	switch cmd := fields[0]; {
	case cmd == "done":
		return true, nil
	case cmd == "quit" || cmd == "q":
		return false, ErrAborted
	case cmd == "help" || cmd == "?":
		c.printf("%s\n", consoleHelp)
	case cmd == "corner":
		if len(fields) != 2 {
			return false, errors.New("usage: corner <1-4>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > 4 {
			return false, fmt.Errorf("unknown corner %q", fields[1])
		}
		x, y := c.corner(n)
		return false, c.travel(ctx, x, y, c.config.Feedrate)
	case cmd == "component":
		return false, c.travel(ctx, c.config.ComponentX, c.config.ComponentY, c.config.Feedrate)
	case cmd == "perimeter":
		return false, c.perimeter(ctx)
	case len(cmd) > 1 && strings.ContainsAny(cmd[:1], "xyz"):
		return false, c.jog(ctx, cmd)
	default:
		return false, fmt.Errorf("unknown command %q, type help", cmd)
	}

	return false, nil
}

func (c *Console) corner(n int) (x, y float64) {
	w, h := c.config.BoardWidth, c.config.BoardHeight
	switch n {
	case 2:
		return w, 0
	case 3:
		return w, h
	case 4:
		return 0, h
	default:
		return 0, 0
	}
}

func (c *Console) jog(ctx context.Context, cmd string) error {
	axis, err := stage.ParseAxis(cmd[:1])
	if err != nil {
		return err
	}

	delta, err := strconv.ParseFloat(cmd[1:], 64)
	if err != nil || delta == 0 || math.Abs(delta) > maxJog {
		return fmt.Errorf("invalid jog %q, expected e.g. %s+1 or %s-0.1", cmd, axis, axis)
	}

	if err = c.probe.Jog(ctx, axis, delta); err != nil {
		return err
	}

	switch axis {
	case stage.AxisX:
		c.offset.X += delta
	case stage.AxisY:
		c.offset.Y += delta
	case stage.AxisZ:
		c.offset.Z += delta
	}

	c.printf("origin x=%.2f y=%.2f z=%.2f mm\n", c.offset.X, c.offset.Y, c.offset.Z)
	return nil
}

// travel lifts the probe, moves it over the board-local point (x, y) and
// lowers it to the probing height.
func (c *Console) travel(ctx context.Context, x, y, feedrate float64) error {
	safe := c.offset.Z + c.config.Lift
	steps := [][3]float64{
		{c.offset.X + c.here[0], c.offset.Y + c.here[1], safe},
		{c.offset.X + x, c.offset.Y + y, safe},
		{c.offset.X + x, c.offset.Y + y, c.offset.Z},
	}

	for _, p := range steps {
		if err := c.probe.Move(ctx, p[0], p[1], p[2], feedrate); err != nil {
			return err
		}
	}
	if err := c.probe.WaitForMotionComplete(ctx); err != nil {
		return err
	}

	c.here = [2]float64{x, y}
	return nil
}

// perimeter traces the board outline above the probing height and returns to the origin.
func (c *Console) perimeter(ctx context.Context) error {
	z := c.offset.Z + c.config.Lift
	if err := c.probe.Move(ctx, c.offset.X+c.here[0], c.offset.Y+c.here[1], z, c.config.Feedrate); err != nil {
		return err
	}

	for _, n := range []int{1, 2, 3, 4, 1} {
		x, y := c.corner(n)
		if err := c.probe.Move(ctx, c.offset.X+x, c.offset.Y+y, z, c.config.PerimeterSpeed); err != nil {
			return fmt.Errorf("tracing perimeter: %w", err)
		}
	}
	if err := c.probe.WaitForMotionComplete(ctx); err != nil {
		return err
	}

	c.here = [2]float64{0, 0}
	return c.travel(ctx, 0, 0, c.config.Feedrate)
}

func (c *Console) Live(r field.Reading) {
	if c.auto {
		c.logger.Debug("live power", slog.String("power", r.String()))
		return
	}
	c.printf("power: %s\n", r)
}

func (c *Console) ConfirmRotation(ctx context.Context, o field.Orientation) error {
	if c.auto {
		c.logger.Info("rotation confirmed", slog.String("orientation", o.String()))
		return nil
	}

	c.printf("rotate the probe to %s and press Enter (quit to abort) ", o)
	line, err := c.readLine(ctx)
	if err != nil {
		return err
	}
	if l := strings.ToLower(line); l == "quit" || l == "q" {
		return ErrAborted
	}
	return nil
}

func (c *Console) Display(_ context.Context, cf *field.CombinedField) error {
	ms := make([]field.Measurement, len(cf.Cells))
	for i, cell := range cf.Cells {
		ms[i] = field.Measurement{X: cell.X, Y: cell.Y, Reading: cell.Intensity}
	}
	summary := field.Summarize(ms)

	c.printf("combined field at %s: %d of %d cells valid, min %s, max %s, mean %s, angle estimated: %t\n",
		humanize.SIWithDigits(cf.Metadata.CenterFrequency, 2, "Hz"),
		summary.Valid, summary.Total,
		summary.Min, summary.Max, summary.Mean,
		cf.HasAngle,
	)
	return nil
}

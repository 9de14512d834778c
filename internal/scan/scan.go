// Package scan drives the probe over a grid and records one reading per cell.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/grid"
	"github.com/roman-kulish/nearfield-scanner/internal/retry"
)

const (
	DefaultFeedrate     = 3000 // mm/min
	DefaultMoveAttempts = 2
	DefaultFlushCount   = 2
)

// ErrInterrupted is wrapped into the error of a scan stopped by its context.
var ErrInterrupted = errors.New("scan interrupted")

// Stage moves the probe. Coordinates are absolute, in millimetres.
type Stage interface {
	Move(ctx context.Context, x, y, z, feedrate float64) error
	WaitForMotionComplete(ctx context.Context) error
}

// Meter takes readings at the current probe position.
type Meter interface {
	Flush(ctx context.Context, n int)
	Measure(ctx context.Context) field.Reading
}

// Offset is the stage position of the board origin, in millimetres.
type Offset struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// RowFunc is called after every completed row with all measurements so far.
type RowFunc func(o field.Orientation, row int, measurements []field.Measurement)

type Config struct {
	Origin       Offset
	Feedrate     float64       // mm/min
	SettleDelay  time.Duration // Pause after motion completes, before flushing
	FlushCount   int           // Buffers flushed before each reading
	RowDelay     time.Duration // Pause before each row after the first
	MoveAttempts int
	MoveBackoff  time.Duration
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller runs raster scans.
type Controller struct {
	stage  Stage
	meter  Meter
	config Config

	logger *slog.Logger
}

func NewController(stage Stage, meter Meter, config Config, options ...func(c *Controller)) *Controller {
	if config.Feedrate <= 0 {
		config.Feedrate = DefaultFeedrate
	}
	if config.MoveAttempts <= 0 {
		config.MoveAttempts = DefaultMoveAttempts
	}
	if config.FlushCount < 0 {
		config.FlushCount = 0
	}

	c := Controller{
		stage:  stage,
		meter:  meter,
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// WithOrigin returns a copy of the controller scanning relative to origin.
func (c *Controller) WithOrigin(origin Offset) *Controller {
	cc := *c
	cc.config.Origin = origin
	return &cc
}

// Origin returns the stage position of the board origin.
func (c *Controller) Origin() Offset {
	return c.config.Origin
}

// Scan visits every grid cell row by row in ascending x and records a reading.
//
// Cancellation is honoured before each cell. The returned scan then holds
// exactly the cells measured so far, is marked interrupted, and the error
// wraps ErrInterrupted. A move that keeps failing aborts the scan with the
// partial result and the move error.
func (c *Controller) Scan(ctx context.Context, g *grid.Grid, o field.Orientation, meta field.Metadata, onRow RowFunc) (*field.OrientationScan, error) {
	meta.Orientation = o
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now()
	}

	scan := field.OrientationScan{
		Orientation:  o,
		Metadata:     meta,
		Measurements: make([]field.Measurement, 0, g.Len()),
	}

	logger := c.logger.With(slog.String("orientation", o.String()))
	logger.Info("scan started",
		slog.Int("cols", g.Cols()),
		slog.Int("rows", g.Rows()),
		slog.Int("points", g.Len()),
	)

	for row := 0; row < g.Rows(); row++ {
		if row > 0 && c.config.RowDelay > 0 {
			if err := retry.Sleep(ctx, c.config.RowDelay); err != nil {
				return c.interrupted(&scan, err)
			}
		}

		for _, p := range g.Row(row) {
			if err := ctx.Err(); err != nil {
				return c.interrupted(&scan, err)
			}

			r, err := c.measureAt(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return c.interrupted(&scan, ctx.Err())
				}

				scan.Metadata.Interrupted = true
				logger.Error("scan aborted",
					slog.Int("measured", len(scan.Measurements)),
					slog.String("error", err.Error()),
				)
				return &scan, fmt.Errorf("scan %s at (%.2f, %.2f) cm: %w", o, p.X, p.Y, err)
			}

			scan.Measurements = append(scan.Measurements, field.Measurement{X: p.X, Y: p.Y, Reading: r})
		}

		if onRow != nil {
			onRow(o, row, scan.Measurements)
		}

		if row == 0 {
			c.reportFirstRow(logger, scan.Measurements)
		}

		logger.Debug("row completed", slog.Int("row", row+1), slog.Int("rows", g.Rows()))
	}

	completed := time.Now()
	scan.Metadata.CompletedAt = &completed

	logger.Info("scan completed",
		slog.Int("measured", len(scan.Measurements)),
		slog.Int("valid", scan.Valid()),
		slog.Duration("elapsed", completed.Sub(meta.StartedAt)),
	)

	return &scan, nil
}

// measureAt positions the probe over p and takes a reading. Only motion
// errors are returned; an unsuccessful reading is an Absent value.
func (c *Controller) measureAt(ctx context.Context, p field.Point) (field.Reading, error) {
	x := c.config.Origin.X + p.X*10
	y := c.config.Origin.Y + p.Y*10
	z := c.config.Origin.Z

	policy := retry.Policy{
		MaxAttempts: c.config.MoveAttempts,
		Backoff:     c.config.MoveBackoff,
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.stage.Move(ctx, x, y, z, c.config.Feedrate); err != nil {
			c.logger.Warn("move failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return fmt.Errorf("moving to (%.3f, %.3f, %.3f) mm: %w", x, y, z, err)
		}
		if err := c.stage.WaitForMotionComplete(ctx); err != nil {
			c.logger.Warn("motion did not complete", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return fmt.Errorf("waiting for motion: %w", err)
		}
		return nil
	})
	if err != nil {
		return field.Absent(), err
	}

	if err = retry.Sleep(ctx, c.config.SettleDelay); err != nil {
		return field.Absent(), err
	}

	c.meter.Flush(ctx, c.config.FlushCount)
	r := c.meter.Measure(ctx)

	if err = ctx.Err(); err != nil {
		// the reading was cut short and does not describe this cell
		return field.Absent(), err
	}
	return r, nil
}

func (c *Controller) interrupted(scan *field.OrientationScan, cause error) (*field.OrientationScan, error) {
	scan.Metadata.Interrupted = true

	c.logger.Warn("scan interrupted",
		slog.String("orientation", scan.Orientation.String()),
		slog.Int("measured", len(scan.Measurements)),
	)

	return scan, fmt.Errorf("%w: %w", ErrInterrupted, cause)
}

func (c *Controller) reportFirstRow(logger *slog.Logger, ms []field.Measurement) {
	summary := field.Summarize(ms)
	logger.Info("first row statistics", slog.Any("summary", summary))

	if summary.AllAbsent() {
		logger.Warn("no valid readings in the first row: check radio connection, gain settings and transmitter status")
	}
}

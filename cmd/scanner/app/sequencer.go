package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/monitor"
	"github.com/roman-kulish/nearfield-scanner/internal/scan"
	"github.com/roman-kulish/nearfield-scanner/internal/storage"
	"github.com/roman-kulish/nearfield-scanner/internal/telemetry"
)

const teardownTimeout = 2 * time.Minute

// Phase is a step of the scanning sequence.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseAdjustProbe Phase = "ADJUST_PROBE"
	PhaseSynthesize  Phase = "SYNTHESIZE"
	PhaseDisplay     Phase = "DISPLAY"
	PhaseDone        Phase = "DONE"
)

// ScanPhase is the phase scanning orientation o.
func ScanPhase(o field.Orientation) Phase {
	return Phase(fmt.Sprintf("SCAN_%d", int(o)))
}

// RotatePhase is the checkpoint before scanning orientation o.
func RotatePhase(o field.Orientation) Phase {
	return Phase(fmt.Sprintf("ROTATE_%d", int(o)))
}

// Radio is the shared radio session.
type Radio interface {
	Release() error
}

// Stage is the probe positioner driven by the sequence.
type Stage interface {
	scan.Stage
	Initialize(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Close() error
}

// Sampler takes power readings.
type Sampler interface {
	scan.Meter
	MeasureFast(ctx context.Context) field.Reading
}

// Operator is the person at the bench.
type Operator interface {
	// AdjustProbe lets the operator position the probe over the board origin
	// and returns the stage position of that origin.
	AdjustProbe(ctx context.Context) (scan.Offset, error)

	// Live shows a live power reading. It is called from a background goroutine.
	Live(r field.Reading)

	// ConfirmRotation blocks until the probe has been turned to o.
	ConfirmRotation(ctx context.Context, o field.Orientation) error

	// Display presents the synthesized field.
	Display(ctx context.Context, cf *field.CombinedField) error
}

// Artifacts persists scan results.
type Artifacts interface {
	SaveOrientation(s *field.OrientationScan) error
	SaveCombined(cf *field.CombinedField) error
}

// Archive records completed rows of a run.
type Archive interface {
	StoreMeasurements(ctx context.Context, runID int64, o field.Orientation, offset int, ms []field.Measurement) error
}

// Dependencies are the collaborators of a Sequencer. Archive and Publisher are optional.
type Dependencies struct {
	Radio     Radio
	Stage     Stage
	Sampler   Sampler
	Operator  Operator
	Artifacts Artifacts
	Archive   Archive
	RunID     int64
	Publisher *telemetry.Publisher
}

// WithSequencerLogger sets the logger for the sequencer
func WithSequencerLogger(logger *slog.Logger) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// Sequencer drives one run: probe adjustment, a raster scan per orientation
// with operator rotations in between, synthesis and display.
type Sequencer struct {
	config ScanConfig
	deps   Dependencies

	mu    sync.Mutex
	phase Phase
	scans map[field.Orientation]*field.OrientationScan

	stageReady bool

	logger *slog.Logger
}

func NewSequencer(config ScanConfig, deps Dependencies, options ...func(s *Sequencer)) *Sequencer {
	s := Sequencer{
		config: config,
		deps:   deps,
		phase:  PhaseIdle,
		scans:  make(map[field.Orientation]*field.OrientationScan),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Phase returns the current phase.
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Scan returns the scan of orientation o, nil if it was not taken.
func (s *Sequencer) Scan(o field.Orientation) *field.OrientationScan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans[o]
}

// Run executes the whole sequence. The radio is released and the stage
// disconnected on every exit path; teardown errors are logged, the error
// of the sequence itself is returned. A stage that failed to initialize is
// closed without being homed.
func (s *Sequencer) Run(ctx context.Context) (err error) {
	defer s.teardown(ctx)

	if err = s.deps.Stage.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing stage: %w", err)
	}
	s.stageReady = true

	s.enter(PhaseAdjustProbe, "")
	origin, err := s.adjustProbe(ctx)
	if err != nil {
		return fmt.Errorf("adjusting probe: %w", err)
	}
	s.logger.Info("probe origin set",
		slog.Float64("x", origin.X),
		slog.Float64("y", origin.Y),
		slog.Float64("z", origin.Z),
	)

	controller := scan.NewController(s.deps.Stage, s.deps.Sampler, s.config.Controller,
		scan.WithLogger(s.logger),
	).WithOrigin(origin)

	for i, o := range s.config.Orientations {
		if i > 0 {
			s.enter(RotatePhase(o), "")
			if err = s.deps.Operator.ConfirmRotation(ctx, o); err != nil {
				return fmt.Errorf("rotating probe to %s: %w", o, err)
			}
		}

		s.enter(ScanPhase(o), "")
		if err = s.scan(ctx, controller, o); err != nil {
			return err
		}
	}

	s.enter(PhaseSynthesize, "")
	cf, err := field.Combine(s.Scan(field.Orientation0), s.Scan(field.Orientation90), s.Scan(field.Orientation45))
	if err != nil {
		return fmt.Errorf("synthesizing field: %w", err)
	}
	if err = s.deps.Artifacts.SaveCombined(cf); err != nil {
		return fmt.Errorf("saving combined field: %w", err)
	}

	s.enter(PhaseDisplay, "")
	if err = s.deps.Operator.Display(ctx, cf); err != nil {
		return fmt.Errorf("displaying field: %w", err)
	}

	s.enter(PhaseDone, "")
	return nil
}

func (s *Sequencer) adjustProbe(ctx context.Context) (scan.Offset, error) {
	interval := monitor.DefaultInterval
	if s.config.FastMonitor {
		interval = monitor.FastInterval
	}

	m := monitor.New(s.deps.Sampler.MeasureFast, interval, monitor.WithLogger(s.logger))
	if err := m.Start(ctx, s.live); err != nil {
		return scan.Offset{}, err
	}
	defer m.Stop()

	return s.deps.Operator.AdjustProbe(ctx)
}

func (s *Sequencer) live(r field.Reading) {
	s.deps.Operator.Live(r)

	if err := s.deps.Publisher.PublishLive(r); err != nil {
		s.logger.Debug("publishing live reading", slog.String("error", err.Error()))
	}
}

// scan runs one orientation and persists whatever it measured, also when
// the pass was interrupted.
func (s *Sequencer) scan(ctx context.Context, controller *scan.Controller, o field.Orientation) error {
	result, scanErr := controller.Scan(ctx, s.config.Grid, o, s.config.Metadata, s.rowHandler(ctx))

	if result != nil {
		s.mu.Lock()
		s.scans[o] = result
		s.mu.Unlock()

		s.logger.Info("orientation finished",
			slog.String("orientation", o.String()),
			slog.String("outcome", scan.Outcome(result).String()),
			slog.Int("measured", result.Len()),
			slog.Int("valid", result.Valid()),
		)

		if result.Len() > 0 {
			if err := s.deps.Artifacts.SaveOrientation(result); err != nil {
				return errors.Join(scanErr, fmt.Errorf("saving %s scan: %w", o, err))
			}
		}
	}

	if scanErr != nil {
		return fmt.Errorf("scanning %s: %w", o, scanErr)
	}
	return nil
}

func (s *Sequencer) rowHandler(ctx context.Context) scan.RowFunc {
	cols := s.config.Grid.Cols()
	rows := s.config.Grid.Rows()

	return func(o field.Orientation, row int, ms []field.Measurement) {
		offset := row * cols
		if offset > len(ms) {
			return
		}
		completed := ms[offset:]

		if s.deps.Archive != nil {
			// the row is archived even when the run is being cancelled
			archiveCtx := context.WithoutCancel(ctx)
			if err := s.deps.Archive.StoreMeasurements(archiveCtx, s.deps.RunID, o, offset, completed); err != nil {
				s.logger.Error("archiving row", slog.Int("row", row), slog.String("error", err.Error()))
			}
		}

		summary := field.Summarize(completed)
		err := s.deps.Publisher.PublishRow(telemetry.RowEvent{
			Orientation: int(o),
			Row:         row,
			Rows:        rows,
			Measured:    len(ms),
			Valid:       summary.Valid,
			Mean:        summary.Mean,
		})
		if err != nil {
			s.logger.Debug("publishing row", slog.String("error", err.Error()))
		}
	}
}

func (s *Sequencer) enter(p Phase, detail string) {
	s.mu.Lock()
	prev := s.phase
	s.phase = p
	s.mu.Unlock()

	s.logger.Info("phase changed", slog.String("from", string(prev)), slog.String("to", string(p)))

	if err := s.deps.Publisher.PublishPhase(string(p), detail); err != nil {
		s.logger.Debug("publishing phase", slog.String("error", err.Error()))
	}
}

// teardown releases the radio, then disconnects the stage. It runs with a
// fresh deadline so an interrupted run still parks the hardware. An
// uninitialized stage is only closed.
func (s *Sequencer) teardown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if s.deps.Radio != nil {
		if err := s.deps.Radio.Release(); err != nil {
			s.logger.Error("releasing radio", slog.String("error", err.Error()))
		}
	}

	if !s.stageReady {
		if err := s.deps.Stage.Close(); err != nil {
			s.logger.Error("closing stage", slog.String("error", err.Error()))
		}
		return
	}

	if err := s.deps.Stage.Disconnect(ctx); err != nil {
		s.logger.Error("disconnecting stage", slog.String("error", err.Error()))
	}
}

// fileArtifacts writes JSON artifacts next to a base name.
type fileArtifacts struct {
	paths  storage.Paths
	logger *slog.Logger
}

func newFileArtifacts(base string, logger *slog.Logger) *fileArtifacts {
	return &fileArtifacts{paths: storage.NewPaths(base), logger: logger}
}

func (a *fileArtifacts) SaveOrientation(s *field.OrientationScan) error {
	path := a.paths.Orientation(s.Orientation)
	if err := storage.SaveOrientation(path, s); err != nil {
		return err
	}

	a.logger.Info("scan saved", slog.String("path", path), slog.Int("measurements", s.Len()))
	return nil
}

func (a *fileArtifacts) SaveCombined(cf *field.CombinedField) error {
	path := a.paths.Combined()
	if err := storage.SaveCombined(path, cf); err != nil {
		return err
	}

	a.logger.Info("combined field saved", slog.String("path", path), slog.Int("cells", len(cf.Cells)))
	return nil
}

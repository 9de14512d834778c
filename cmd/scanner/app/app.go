package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/nearfield-scanner/internal/retry"
	"github.com/roman-kulish/nearfield-scanner/internal/sampler"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/hackrf"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/rtl"
	"github.com/roman-kulish/nearfield-scanner/internal/stage"
	"github.com/roman-kulish/nearfield-scanner/internal/storage"
	"github.com/roman-kulish/nearfield-scanner/internal/telemetry"
)

// stageDevice is a stage usable by both the sequencer and the operator.
type stageDevice interface {
	Stage
	Probe
	Position() (x, y, z float64)
}

// lazyPosition lets the simulated radio follow a stage connected after the radio was opened.
type lazyPosition struct {
	stage stageDevice
}

func (p *lazyPosition) Position() (x, y, z float64) {
	if p.stage == nil {
		return 0, 0, 0
	}
	return p.stage.Position()
}

// WithTerminal sets the terminal of the operator.
func WithTerminal(in io.Reader, out io.Writer) func(r *runner) {
	return func(r *runner) {
		r.in = in
		r.out = out
	}
}

// AutoConfirm runs the sequence without waiting for the operator.
func AutoConfirm(enabled bool) func(r *runner) {
	return func(r *runner) {
		r.autoConfirm = enabled
	}
}

type runner struct {
	in          io.Reader
	out         io.Writer
	autoConfirm bool
}

// Run wires the hardware, storage and telemetry together and executes one scanning sequence.
func Run(ctx context.Context, config *Config, logger *slog.Logger, options ...func(r *runner)) error {
	r := runner{in: os.Stdin, out: os.Stdout}
	for _, option := range options {
		option(&r)
	}

	scanConfig, err := config.ScanConfig()
	if err != nil {
		return fmt.Errorf("invalid scan configuration: %w", err)
	}

	if err = createOutputDirectory(config.Storage.Output); err != nil {
		return err
	}

	runID := uuid.NewString()

	var archive *storage.SqliteStore
	var archiveRunID int64
	if config.Storage.Archive {
		archive = storage.NewSqliteStore(config.Storage.DBPath)
		defer func() {
			if err := archive.Close(); err != nil {
				logger.Error("closing archive", slog.String("error", err.Error()))
			}
		}()

		run, err := archive.CreateRun(ctx, config.Storage.Output, config)
		if err != nil {
			return fmt.Errorf("creating archive run: %w", err)
		}
		runID = run.UUID
		archiveRunID = run.ID
	}

	logger = logger.With(slog.String("run", runID))
	logger.Info("scan configured",
		slog.String("frequency", humanize.SIWithDigits(config.Radio.CenterFrequency, 3, "Hz")),
		slog.String("bandwidth", humanize.SIWithDigits(config.Radio.Bandwidth, 3, "Hz")),
		slog.Int("points", scanConfig.Grid.Len()),
		slog.Any("orientations", config.Scan.Orientations),
		slog.String("radio", config.Radio.Type),
		slog.String("stage", config.Stage.Type),
	)

	publisher := createPublisher(ctx, config.Telemetry, runID, logger)
	defer publisher.Close()

	position := &lazyPosition{}
	var st stageDevice
	if config.Stage.Type == StageSimulated {
		st = stage.NewSimulated(config.Stage.SafeZ, defaultSimulatedDelay, logger.With(slog.String("component", "stage")))
		position.stage = st
	}

	session, err := openRadio(ctx, config, position, logger)
	if err != nil {
		return fmt.Errorf("opening radio: %w", err)
	}

	if st == nil {
		if st, err = connectStage(ctx, config, logger); err != nil {
			if releaseErr := session.Release(); releaseErr != nil {
				logger.Error("releasing radio", slog.String("error", releaseErr.Error()))
			}
			return fmt.Errorf("connecting stage: %w", err)
		}
		position.stage = st
	}

	meter := sampler.New(session, config.SamplerSettings(), sampler.WithLogger(logger.With(slog.String("component", "sampler"))))

	consoleOptions := []func(c *Console){WithConsoleLogger(logger)}
	if r.autoConfirm {
		consoleOptions = append(consoleOptions, WithAutoConfirm())
	}

	console := NewConsole(r.in, r.out, st, scanConfig.Probe, consoleOptions...)
	defer console.Close()

	deps := Dependencies{
		Radio:     session,
		Stage:     st,
		Sampler:   meter,
		Operator:  console,
		Artifacts: newFileArtifacts(config.Storage.Output, logger),
		Publisher: publisher,
	}
	if archive != nil {
		deps.Archive = archive
		deps.RunID = archiveRunID
	}

	start := time.Now()
	if err = NewSequencer(scanConfig, deps, WithSequencerLogger(logger)).Run(ctx); err != nil {
		return err
	}

	logger.Info("run completed", slog.Duration("elapsed", time.Since(start).Round(time.Second)))
	return nil
}

func createOutputDirectory(output string) error {
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory '%s': %w", dir, err)
	}
	return nil
}

func openRadio(ctx context.Context, config *Config, position sdr.PositionSource, logger *slog.Logger) (*sdr.Session, error) {
	radioLogger := logger.With(slog.String("component", "radio"))

	var deviceOptions []func(d *sdr.Device)
	deviceOptions = append(deviceOptions, sdr.WithLogger(radioLogger))
	if size := config.SamplerSettings().BufferSize; size > 0 {
		deviceOptions = append(deviceOptions, sdr.WithBlockSize(size))
	}

	var opener sdr.Opener
	switch config.Radio.Type {
	case RadioRTLSDR:
		base := rtl.Config{}
		if config.Radio.RTLSDR != nil {
			base = *config.Radio.RTLSDR
		}
		opener = sdr.DeviceOpener(func(p sdr.Params) (sdr.Handler, error) {
			return rtl.New(base.WithParams(p))
		}, config.Radio.DeviceID, deviceOptions...)

	case RadioHackRF:
		base := hackrf.Config{}
		if config.Radio.HackRF != nil {
			base = *config.Radio.HackRF
		}
		opener = sdr.DeviceOpener(func(p sdr.Params) (sdr.Handler, error) {
			return hackrf.New(base.WithParams(p))
		}, config.Radio.DeviceID, deviceOptions...)

	case RadioSimulator:
		opener = sdr.SimulatorOpener(config.Simulator, position)

	default:
		return nil, fmt.Errorf("unknown radio type '%s'", config.Radio.Type)
	}

	policy := retry.Policy{
		MaxAttempts: config.Radio.OpenAttempts,
		Backoff:     config.Radio.OpenBackoff.Duration(),
	}

	return sdr.Open(ctx, opener, config.Radio.Params(),
		sdr.WithSessionLogger(radioLogger),
		sdr.WithOpenPolicy(policy),
	)
}

func connectStage(ctx context.Context, config *Config, logger *slog.Logger) (stageDevice, error) {
	c := config.Stage
	options := []func(c *stage.Controller){
		stage.WithLogger(logger.With(slog.String("component", "stage"))),
		stage.WithSafeZ(c.SafeZ),
		stage.WithMoveTimeout(c.MoveTimeout.Duration()),
		stage.WithCommandTimeout(c.CommandTimeout.Duration()),
	}

	switch c.Type {
	case StageTelnet:
		opts := c.Telnet
		opts.Timeout = c.ConnectTimeout.Duration()
		if c.PasswordFile != "" {
			password, err := stage.LoadPassword(c.PasswordFile)
			if err != nil {
				return nil, err
			}
			opts.Password = password
		}
		return stage.DialTelnet(ctx, opts, options...)

	case StageSerial:
		return stage.OpenSerial(c.SerialPort, c.Port, options...)

	default:
		return nil, fmt.Errorf("unknown stage type '%s'", c.Type)
	}
}

// createPublisher connects to the telemetry broker. Telemetry is optional:
// a missing or unreachable broker yields a disabled publisher.
func createPublisher(ctx context.Context, config telemetry.BrokerConfig, runID string, logger *slog.Logger) *telemetry.Publisher {
	if config.Broker == "" {
		return telemetry.NewPublisher(nil, runID)
	}

	client, err := telemetry.Connect(ctx, config)
	if err != nil {
		logger.Warn("telemetry disabled", slog.String("broker", config.Broker), slog.String("error", err.Error()))
		return telemetry.NewPublisher(nil, runID)
	}

	options := []func(p *telemetry.Publisher){
		telemetry.WithLogger(logger.With(slog.String("component", "telemetry"))),
	}
	if config.Prefix != "" {
		options = append(options, telemetry.WithPrefix(config.Prefix))
	}

	logger.Info("telemetry connected", slog.String("broker", config.Broker))
	return telemetry.NewPublisher(client, runID, options...)
}

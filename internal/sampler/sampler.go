// Package sampler turns raw I/Q blocks into a single averaged power reading.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/retry"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
)

const (
	DefaultAttempts          = 4
	DefaultSamplesPerAttempt = 100
	DefaultDiscardCount      = 10
	DefaultBufferSize        = 16384
	DefaultReceiveTimeout    = 500 * time.Millisecond
	DefaultNoiseFloor        = 1e-6

	DefaultFastSamples = 4
	DefaultFastDiscard = 2
	DefaultFastTimeout = 100 * time.Millisecond

	// epsilon keeps log10 finite for a silent but valid buffer
	epsilon = 1e-12
)

var errNoValidSamples = errors.New("no valid samples")

// Radio is the shared radio session the sampler reads from.
type Radio interface {
	WithExclusiveAccess(ctx context.Context, fn func(sdr.Stream) error) error
	Reset(ctx context.Context) error
}

// Config controls how a reading is acquired.
type Config struct {
	Gain              float64       `yaml:"gain"`              // Receiver gain removed from the result, dB
	Attempts          int           `yaml:"attempts"`          // Tries per reading
	SamplesPerAttempt int           `yaml:"samplesPerAttempt"` // Buffers averaged per try
	DiscardCount      int           `yaml:"discardCount"`      // Buffers dropped after every stream restart
	BufferSize        int           `yaml:"bufferSize"`        // Samples per receive
	ReceiveTimeout    time.Duration `yaml:"receiveTimeout"`
	NoiseFloor        float64       `yaml:"noiseFloor"` // Buffers with a lower mean amplitude are rejected
	Backoff           time.Duration `yaml:"backoff"`    // Pause between tries
	ResetOnFailure    bool          `yaml:"resetOnFailure"`

	FastSamples int           `yaml:"fastSamples"`
	FastTimeout time.Duration `yaml:"fastTimeout"`
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.SamplesPerAttempt <= 0 {
		c.SamplesPerAttempt = DefaultSamplesPerAttempt
	}
	if c.DiscardCount < 0 {
		c.DiscardCount = 0
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.NoiseFloor <= 0 {
		c.NoiseFloor = DefaultNoiseFloor
	}
	if c.FastSamples <= 0 {
		c.FastSamples = DefaultFastSamples
	}
	if c.FastTimeout <= 0 {
		c.FastTimeout = DefaultFastTimeout
	}
	return c
}

// profile is the acquisition budget of one logical measurement.
type profile struct {
	attempts int
	samples  int
	discard  int
	timeout  time.Duration
}

// WithLogger sets the logger for the sampler
func WithLogger(logger *slog.Logger) func(s *Sampler) {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// Sampler measures average received power through a shared radio session.
type Sampler struct {
	radio  Radio
	config Config
	buf    []complex64 // only touched under exclusive access

	logger *slog.Logger
}

func New(radio Radio, config Config, options ...func(s *Sampler)) *Sampler {
	config = config.withDefaults()

	s := Sampler{
		radio:  radio,
		config: config,
		buf:    make([]complex64, config.BufferSize),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Config returns the effective configuration.
func (s *Sampler) Config() Config {
	return s.config
}

// Measure takes a full-precision reading. It never fails: when no valid
// power could be collected the reading is Absent.
func (s *Sampler) Measure(ctx context.Context) field.Reading {
	return s.measure(ctx, profile{
		attempts: s.config.Attempts,
		samples:  s.config.SamplesPerAttempt,
		discard:  s.config.DiscardCount,
		timeout:  s.config.ReceiveTimeout,
	})
}

// MeasureFast takes a low-latency reading for live display.
func (s *Sampler) MeasureFast(ctx context.Context) field.Reading {
	return s.measure(ctx, profile{
		attempts: 1,
		samples:  s.config.FastSamples,
		discard:  min(s.config.DiscardCount, DefaultFastDiscard),
		timeout:  s.config.FastTimeout,
	})
}

// Flush drops n buffers so the next reading reflects the current probe position.
func (s *Sampler) Flush(ctx context.Context, n int) {
	if n <= 0 {
		return
	}

	err := s.radio.WithExclusiveAccess(ctx, func(st sdr.Stream) error {
		for i := 0; i < n; i++ {
			if _, err := st.Receive(ctx, s.buf, s.config.ReceiveTimeout); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Debug("flush receive failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("flush aborted", slog.String("error", err.Error()))
	}
}

func (s *Sampler) measure(ctx context.Context, p profile) field.Reading {
	powers := make([]float64, 0, p.samples)

	policy := retry.Policy{
		MaxAttempts: p.attempts,
		Backoff:     s.config.Backoff,
	}

	err := s.radio.WithExclusiveAccess(ctx, func(st sdr.Stream) error {
		return policy.Do(ctx, func(ctx context.Context, attempt int) error {
			var err error
			if powers, err = s.collect(ctx, st, p, powers); err == nil {
				return nil
			}

			s.logger.Debug("measurement attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("attempts", p.attempts),
				slog.Int("collected", len(powers)),
				slog.String("error", err.Error()),
			)
			return err
		})
	})

	if ctx.Err() != nil {
		return field.Absent()
	}

	if len(powers) == 0 {
		if err == nil {
			err = errNoValidSamples
		}
		s.logger.Warn("measurement failed", slog.String("error", err.Error()))
		s.reset(ctx, err)
		return field.Absent()
	}

	if err != nil {
		s.logger.Debug("measurement incomplete",
			slog.Int("collected", len(powers)),
			slog.Int("wanted", p.samples),
		)
	}

	return field.Present(ToDBm(stat.Mean(powers, nil), s.config.Gain))
}

// collect restarts the stream, discards stale buffers and appends linear
// powers to powers until it holds p.samples values. A rejected buffer ends
// the try; the powers gathered so far are kept for the next one.
func (s *Sampler) collect(ctx context.Context, st sdr.Stream, p profile, powers []float64) ([]float64, error) {
	_ = st.Stop()
	if err := st.Start(ctx); err != nil {
		return powers, fmt.Errorf("starting stream: %w", err)
	}

	for i := 0; i < p.discard; i++ {
		if _, err := st.Receive(ctx, s.buf, p.timeout); err != nil && ctx.Err() != nil {
			return powers, ctx.Err()
		}
	}

	for len(powers) < p.samples {
		n, err := st.Receive(ctx, s.buf, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return powers, ctx.Err()
			}
			return powers, fmt.Errorf("receiving buffer %d: %w", len(powers), err)
		}
		if n == 0 {
			return powers, fmt.Errorf("buffer %d: %w", len(powers), errNoValidSamples)
		}

		block := s.buf[:n]
		if amp := MeanAmplitude(block); amp < s.config.NoiseFloor {
			return powers, fmt.Errorf("buffer %d below noise floor (%.3g < %.3g): %w", len(powers), amp, s.config.NoiseFloor, errNoValidSamples)
		}

		powers = append(powers, LinearPower(block))
	}

	return powers, nil
}

func (s *Sampler) reset(ctx context.Context, cause error) {
	if !s.config.ResetOnFailure || errors.Is(cause, sdr.ErrSessionReleased) {
		return
	}

	s.logger.Info("resetting radio after failed measurement")
	if err := s.radio.Reset(ctx); err != nil {
		s.logger.Error("radio reset failed", slog.String("error", err.Error()))
	}
}

// LinearPower returns mean(|s|²) over the block.
func LinearPower(block []complex64) float64 {
	if len(block) == 0 {
		return 0
	}

	var sum float64
	for _, v := range block {
		re, im := float64(real(v)), float64(imag(v))
		sum += re*re + im*im
	}
	return sum / float64(len(block))
}

// MeanAmplitude returns mean(|s|) over the block.
func MeanAmplitude(block []complex64) float64 {
	if len(block) == 0 {
		return 0
	}

	var sum float64
	for _, v := range block {
		sum += cmplx.Abs(complex128(v))
	}
	return sum / float64(len(block))
}

// ToDBm converts a linear power to dBm, removing the receiver gain.
func ToDBm(linear, gain float64) float64 {
	return 10*math.Log10(linear+epsilon) + 30 - gain
}

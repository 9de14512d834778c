package sdr

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReceiveTimeout is returned when no samples arrive within the receive timeout
	ErrReceiveTimeout = errors.New("receive timed out")

	// ErrStreamStopped is returned when receiving from a stream that is not running
	ErrStreamStopped = errors.New("stream is not running")

	// ErrSessionReleased is returned when using a session after Release
	ErrSessionReleased = errors.New("radio session released")
)

// Stream is a source of complex baseband samples.
type Stream interface {
	// Start begins streaming immediately. Starting a running stream restarts it
	// and discards anything buffered before the restart.
	Start(ctx context.Context) error

	// Stop halts streaming. Stopping a stopped stream is a no-op.
	Stop() error

	// Receive fills buf with at most len(buf) samples, waiting up to timeout.
	Receive(ctx context.Context, buf []complex64, timeout time.Duration) (int, error)
}

// Params are the tuning parameters of a radio session.
type Params struct {
	CenterFrequency float64 `json:"centerFrequency"` // Hz
	SampleRate      float64 `json:"sampleRate"`      // Samples per second
	Bandwidth       float64 `json:"bandwidth"`       // Hz, 0 lets the device choose
	Gain            float64 `json:"gain"`            // dB
}

// Opener creates a stream tuned to the given parameters.
type Opener func(ctx context.Context, p Params) (Stream, error)

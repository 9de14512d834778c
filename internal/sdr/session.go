package sdr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/nearfield-scanner/internal/retry"
)

// DefaultOpenPolicy retries device initialisation a few times before giving up.
var DefaultOpenPolicy = retry.Policy{
	MaxAttempts: 3,
	Backoff:     time.Second,
}

// SessionOption configures a Session
type SessionOption func(s *Session)

// WithSessionLogger sets the logger for the session
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithOpenPolicy replaces the retry policy used to open and reset the stream
func WithOpenPolicy(p retry.Policy) SessionOption {
	return func(s *Session) {
		s.policy = p
	}
}

// Session owns one tuned stream and serialises access to it. The scanner and
// the live monitor share a session; neither may touch the stream while the
// other holds it.
type Session struct {
	opener Opener
	params Params
	policy retry.Policy

	sem      chan struct{} // holds one token; taking it grants exclusive access
	stream   Stream
	released atomic.Bool

	logger *slog.Logger
}

// Open tunes a stream with the opener, retrying per the session policy.
func Open(ctx context.Context, opener Opener, params Params, options ...SessionOption) (*Session, error) {
	s := Session{
		opener: opener,
		params: params,
		policy: DefaultOpenPolicy,
		sem:    make(chan struct{}, 1),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	stream, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	s.stream = stream
	s.sem <- struct{}{}

	return &s, nil
}

func (s *Session) open(ctx context.Context) (Stream, error) {
	var stream Stream

	err := s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		st, err := s.opener(ctx, s.params)
		if err != nil {
			s.logger.Warn("radio initialisation failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		stream = st
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("opening radio: %w", err)
	}

	s.logger.Info("radio ready",
		slog.Float64("centerFrequency", s.params.CenterFrequency),
		slog.Float64("sampleRate", s.params.SampleRate),
		slog.Float64("gain", s.params.Gain),
	)

	return stream, nil
}

// Params returns the tuning parameters of the session.
func (s *Session) Params() Params {
	return s.params
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case <-s.sem:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.released.Load() {
		s.sem <- struct{}{}
		return ErrSessionReleased
	}
	return nil
}

func (s *Session) release() {
	s.sem <- struct{}{}
}

// WithExclusiveAccess runs fn while no other caller can use the stream.
// Waiting for access is abandoned when ctx is done.
func (s *Session) WithExclusiveAccess(ctx context.Context, fn func(Stream) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return fn(s.stream)
}

// Reset closes the stream and opens a fresh one with the same parameters.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if err := s.stream.Stop(); err != nil {
		s.logger.Warn("stopping stream before reset", slog.String("error", err.Error()))
	}

	stream, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("resetting radio: %w", err)
	}

	s.stream = stream
	return nil
}

// Release stops the stream. It waits for a caller holding the stream to
// finish. Subsequent calls are no-ops, and any other use returns ErrSessionReleased.
func (s *Session) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}

	<-s.sem
	defer s.release()

	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stopping stream: %w", err)
	}

	s.logger.Info("radio released")
	return nil
}

// DeviceOpener adapts a capture tool handler factory into an Opener. Each
// call builds a new Device, so a reset also restarts the capture process.
func DeviceOpener(newHandler func(Params) (Handler, error), deviceID string, options ...func(d *Device)) Opener {
	return func(ctx context.Context, p Params) (Stream, error) {
		h, err := newHandler(p)
		if err != nil {
			return nil, err
		}

		d := NewDevice(deviceID, h, options...)
		if err = d.Start(ctx); err != nil {
			return nil, err
		}
		return d, nil
	}
}

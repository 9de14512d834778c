package stage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Simulated is an in-memory stage. It tracks the commanded position and
// acts as the position source of the simulated radio.
type Simulated struct {
	mu     sync.Mutex
	pos    [3]float64
	moves  int
	closed bool

	safeZ     float64
	moveDelay time.Duration

	logger *slog.Logger
}

// NewSimulated creates a simulated stage. moveDelay is added to every
// WaitForMotionComplete to mimic travel time.
func NewSimulated(safeZ float64, moveDelay time.Duration, logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Simulated{safeZ: safeZ, moveDelay: moveDelay, logger: logger}
}

func (s *Simulated) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pos = [3]float64{0, 0, s.safeZ}
	s.closed = false
	s.logger.Info("simulated stage initialized")
	return nil
}

func (s *Simulated) Move(ctx context.Context, x, y, z, _ float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrDisconnected
	}
	s.pos = [3]float64{x, y, z}
	s.moves++
	return nil
}

func (s *Simulated) WaitForMotionComplete(ctx context.Context) error {
	if s.moveDelay <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.moveDelay):
		return nil
	}
}

func (s *Simulated) Jog(ctx context.Context, axis Axis, delta float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch axis {
	case AxisX:
		s.pos[0] += delta
	case AxisY:
		s.pos[1] += delta
	case AxisZ:
		s.pos[2] += delta
	}
	return nil
}

func (s *Simulated) Lift(ctx context.Context, dz float64) error {
	return s.Jog(ctx, AxisZ, dz)
}

func (s *Simulated) Position() (x, y, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[0], s.pos[1], s.pos[2]
}

// Moves returns the number of absolute moves made.
func (s *Simulated) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}

func (s *Simulated) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.pos = [3]float64{}
	s.logger.Info("simulated stage disconnected")
	return nil
}

// Close disconnects without returning to the home position.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

package sdr

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// PositionSource reports where the probe currently is, in millimetres.
type PositionSource interface {
	Position() (x, y, z float64)
}

// Hotspot is a Gaussian radiation source on the board.
type Hotspot struct {
	X     float64 `yaml:"x"`     // mm
	Y     float64 `yaml:"y"`     // mm
	Sigma float64 `yaml:"sigma"` // mm
	Power float64 `yaml:"power"` // dBm at the centre
}

// SimulatorConfig describes the synthetic field.
type SimulatorConfig struct {
	Hotspots   []Hotspot `yaml:"hotspots"`
	Background float64   `yaml:"background"` // dBm everywhere on the board
	Jitter     float64   `yaml:"jitter"`     // relative amplitude noise, 0.05 is 5%
	Seed       uint64    `yaml:"seed"`
}

// Simulator is a Stream producing samples whose power follows a synthetic
// field at the probe position.
type Simulator struct {
	config   SimulatorConfig
	gain     float64
	position PositionSource

	mu      sync.Mutex
	running bool
	rng     *rand.Rand
}

// NewSimulator creates a stopped simulator. Sample amplitudes are scaled so
// that a receiver applying gain dB reads back the field power in dBm.
func NewSimulator(config SimulatorConfig, gain float64, position PositionSource) *Simulator {
	return &Simulator{
		config:   config,
		gain:     gain,
		position: position,
		rng:      rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
	}
}

// SimulatorOpener returns an Opener yielding a started simulator.
func SimulatorOpener(config SimulatorConfig, position PositionSource) Opener {
	return func(ctx context.Context, p Params) (Stream, error) {
		s := NewSimulator(config, p.Gain, position)
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (s *Simulator) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Receive(ctx context.Context, buf []complex64, _ time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return 0, ErrStreamStopped
	}

	x, y, _ := s.position.Position()
	amplitude := math.Sqrt(s.powerAt(x, y))

	for i := range buf {
		a := amplitude * (1 + s.config.Jitter*s.rng.NormFloat64())
		phase := s.rng.Float64() * 2 * math.Pi
		buf[i] = complex64(complex(a*math.Cos(phase), a*math.Sin(phase)))
	}
	return len(buf), nil
}

// FieldAt returns the simulated power in dBm at (x, y) mm.
func (s *Simulator) FieldAt(x, y float64) float64 {
	return 10 * math.Log10(s.fieldMilliwatts(x, y))
}

func (s *Simulator) fieldMilliwatts(x, y float64) float64 {
	p := math.Pow(10, s.config.Background/10)
	for _, h := range s.config.Hotspots {
		if h.Sigma <= 0 {
			continue
		}
		d2 := (x-h.X)*(x-h.X) + (y-h.Y)*(y-h.Y)
		p += math.Pow(10, h.Power/10) * math.Exp(-d2/(2*h.Sigma*h.Sigma))
	}
	return p
}

// powerAt is the mean |s|² a receiver needs to report the field power after
// removing gain and converting to dBm.
func (s *Simulator) powerAt(x, y float64) float64 {
	return s.fieldMilliwatts(x, y) * math.Pow(10, (s.gain-30)/10)
}

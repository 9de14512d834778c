package sdr

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type fixedPosition struct{ x, y float64 }

func (p fixedPosition) Position() (float64, float64, float64) {
	return p.x, p.y, 0
}

func TestSimulator_PowerMatchesField(t *testing.T) {
	const gain = 20.0

	config := SimulatorConfig{
		Background: -80,
		Hotspots:   []Hotspot{{X: 50, Y: 30, Sigma: 10, Power: -40}},
	}

	for _, pos := range []fixedPosition{{50, 30}, {60, 30}, {0, 0}} {
		sim := NewSimulator(config, gain, pos)
		if err := sim.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		buf := make([]complex64, 256)
		n, err := sim.Receive(context.Background(), buf, time.Second)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}

		var sum float64
		for _, s := range buf[:n] {
			re, im := float64(real(s)), float64(imag(s))
			sum += re*re + im*im
		}
		got := 10*math.Log10(sum/float64(n)) + 30 - gain
		want := sim.FieldAt(pos.x, pos.y)

		if math.Abs(got-want) > 1e-3 {
			t.Errorf("At %v: expected %.4f dBm, got %.4f dBm", pos, want, got)
		}
	}
}

func TestSimulator_HotspotPeak(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{
		Background: -90,
		Hotspots:   []Hotspot{{X: 10, Y: 10, Sigma: 5, Power: -30}},
	}, 0, fixedPosition{})

	if sim.FieldAt(10, 10) <= sim.FieldAt(20, 10) {
		t.Error("Expected the field to peak at the hotspot")
	}
	if math.Abs(sim.FieldAt(1000, 1000)-(-90)) > 1e-6 {
		t.Errorf("Expected background far from the hotspot, got %.4f", sim.FieldAt(1000, 1000))
	}
}

func TestSimulator_Stopped(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Background: -80}, 0, fixedPosition{})

	_, err := sim.Receive(context.Background(), make([]complex64, 4), time.Second)
	if !errors.Is(err, ErrStreamStopped) {
		t.Errorf("Expected ErrStreamStopped, got %v", err)
	}
}

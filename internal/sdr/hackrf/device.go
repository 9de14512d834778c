package hackrf

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/driver"
)

const (
	Runtime = "hackrf_transfer"
	Device  = "HackRF"
)

// handler struct represents a HackRF handler
type handler struct {
	binPath string
	args    []string
}

// New creates a new HackRF handler
func New(config *Config) (sdr.Handler, error) {
	binPath, err := driver.FindRuntime(Runtime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	args, err := config.Args()
	if err != nil {
		return nil, fmt.Errorf("error creating args: %w", err)
	}

	return &handler{binPath, args}, nil
}

// Cmd returns an exec.Cmd for the HackRF handler
func (h handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

func (h handler) Decode(raw []byte, dst []complex64) int {
	return Decode(raw, dst)
}

func (h handler) BytesPerSample() int {
	return 2
}

func (h handler) Device() string {
	return Device
}

// Decode converts interleaved signed 8-bit I/Q into dst, scaled to [-1, 1).
func Decode(raw []byte, dst []complex64) int {
	n := min(len(raw)/2, len(dst))
	for i := 0; i < n; i++ {
		re := float32(int8(raw[2*i])) / 128
		im := float32(int8(raw[2*i+1])) / 128
		dst[i] = complex(re, im)
	}
	return n
}

package rtl

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/driver"
)

const (
	Runtime = "rtl_sdr"
	Device  = "RTL-SDR"
)

// handler struct represents an RTL-SDR handler
type handler struct {
	binPath string
	args    []string
}

// New creates a new RTL-SDR handler
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

// Cmd returns an exec.Cmd for the RTL-SDR handler
func (h handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

// Decode converts interleaved unsigned 8-bit I/Q into complex samples in [-1, 1]
func (h handler) Decode(raw []byte, dst []complex64) int {
	return Decode(raw, dst)
}

func (h handler) BytesPerSample() int {
	return 2
}

func (h handler) Device() string {
	return Device
}

// Decode converts interleaved unsigned 8-bit I/Q, centred on 127.5, into dst.
func Decode(raw []byte, dst []complex64) int {
	n := min(len(raw)/2, len(dst))
	for i := 0; i < n; i++ {
		re := (float32(raw[2*i]) - 127.5) / 127.5
		im := (float32(raw[2*i+1]) - 127.5) / 127.5
		dst[i] = complex(re, im)
	}
	return n
}

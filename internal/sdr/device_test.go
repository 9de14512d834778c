package sdr

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"
)

const helperBytes = 2048

// helperHandler re-runs the test binary as a fake capture tool.
type helperHandler struct{}

func (helperHandler) Cmd(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

func (helperHandler) Decode(raw []byte, dst []complex64) int {
	n := min(len(raw)/2, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = complex((float32(raw[2*i])-127.5)/127.5, (float32(raw[2*i+1])-127.5)/127.5)
	}
	return n
}

func (helperHandler) BytesPerSample() int { return 2 }

func (helperHandler) Device() string { return "helper" }

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	out := make([]byte, helperBytes)
	for i := range out {
		if i%2 == 0 {
			out[i] = 255
		} else {
			out[i] = 0
		}
	}
	_, _ = os.Stdout.Write(out)
	os.Exit(0)
}

func TestDevice_ReceivesAllSamples(t *testing.T) {
	d := NewDevice("helper-0", helperHandler{}, WithBlockSize(64))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	buf := make([]complex64, 64)
	total := 0

	for {
		n, err := d.Receive(ctx, buf, 5*time.Second)
		if errors.Is(err, ErrStreamStopped) {
			break
		}
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if n > 0 && (real(buf[0]) != 1 || imag(buf[0]) != -1) {
			t.Fatalf("Unexpected sample %v", buf[0])
		}
		total += n
	}

	if total != helperBytes/2 {
		t.Errorf("Expected %d samples, got %d", helperBytes/2, total)
	}
}

func TestDevice_ReceiveBeforeStart(t *testing.T) {
	d := NewDevice("helper-0", helperHandler{})

	_, err := d.Receive(context.Background(), make([]complex64, 8), time.Millisecond)
	if !errors.Is(err, ErrStreamStopped) {
		t.Errorf("Expected ErrStreamStopped, got %v", err)
	}
}

func TestDevice_StopIsIdempotent(t *testing.T) {
	d := NewDevice("helper-0", helperHandler{})

	if err := d.Stop(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Unexpected error on second stop: %v", err)
	}
	if d.IsStreaming() {
		t.Error("Expected device not to be streaming")
	}
}

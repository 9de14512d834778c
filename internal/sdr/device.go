package sdr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBlockSize is the number of samples decoded into one block
	DefaultBlockSize = 16384

	// DefaultBufferCapacity is the number of blocks kept before the oldest are dropped
	DefaultBufferCapacity = 32
)

// ErrBrokenPipe is returned when there's an error reading from stdout or stderr
var ErrBrokenPipe = errors.New("broken pipe")

// Handler adapts a raw I/Q capture tool to a Device.
type Handler interface {
	// Cmd returns the capture command writing raw samples to stdout.
	Cmd(ctx context.Context) *exec.Cmd

	// Decode converts raw interleaved I/Q bytes into dst and returns the number of samples.
	Decode(raw []byte, dst []complex64) int

	// BytesPerSample is the size of one complex sample in the raw output.
	BytesPerSample() int

	// Device is a human-readable device type.
	Device() string
}

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) func(d *Device) {
	return func(d *Device) {
		d.logger = logger.With(
			slog.String("device", d.handler.Device()),
			slog.String("deviceID", d.deviceID),
		)
	}
}

// WithBlockSize sets the number of samples per decoded block
func WithBlockSize(samples int) func(d *Device) {
	return func(d *Device) {
		if samples > 0 {
			d.blockSize = samples
		}
	}
}

// WithBuffer replaces the block buffer
func WithBuffer(buffer *BlockBuffer) func(d *Device) {
	return func(d *Device) {
		if buffer != nil {
			d.buffer = buffer
		}
	}
}

// Device runs a capture process and exposes its output as a Stream.
// Every Start launches a fresh process, so no sample captured before the
// restart can be received after it.
type Device struct {
	deviceID  string
	handler   Handler
	blockSize int
	buffer    *BlockBuffer

	isStreaming atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	streamErr error
	wg        sync.WaitGroup

	logger *slog.Logger
}

// NewDevice creates a new Device instance with a discard logger
func NewDevice(deviceID string, h Handler, options ...func(d *Device)) *Device {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Device{
		deviceID:  deviceID,
		handler:   h,
		blockSize: DefaultBlockSize,
		logger:    logger,
	}

	for _, option := range options {
		option(&d)
	}

	if d.buffer == nil {
		d.buffer, _ = NewBlockBuffer(DefaultBufferCapacity, DefaultBufferCapacity/4)
	}

	return &d
}

// DeviceID returns the device identifier
func (d *Device) DeviceID() string {
	return d.deviceID
}

// Start launches the capture process, stopping a previous one first.
func (d *Device) Start(ctx context.Context) error {
	if err := d.Stop(); err != nil {
		return fmt.Errorf("stopping previous capture: %w", err)
	}

	d.buffer.Clear()

	// The capture outlives the call that started it; only Stop ends it.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := d.handler.Cmd(procCtx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("error starting command: %w", err)
	}

	done := make(chan struct{})

	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.streamErr = nil
	d.mu.Unlock()

	d.isStreaming.Store(true)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)

		d.logger.Debug("capture started", slog.String("cmd", strings.Join(cmd.Args, " ")))

		pipes := make(chan error, 2) // expects two results from the pipe readers

		go d.handleStdout(stdout, pipes)
		go d.handleStderr(stderr, pipes)

		var errs []error
		for i := 0; i < cap(pipes); i++ {
			if err := <-pipes; err != nil {
				cancel() // kill the process on a broken pipe
				errs = append(errs, err)
			}
		}

		// Wait only after both pipes are drained.
		if err := cmd.Wait(); err != nil && procCtx.Err() == nil {
			errs = append(errs, fmt.Errorf("command exited with error: %w", err))
		}

		d.isStreaming.Store(false)

		if len(errs) > 0 {
			err := errors.Join(errs...)
			d.logger.Error(err.Error())

			d.mu.Lock()
			d.streamErr = err
			d.mu.Unlock()
		}

		d.logger.Debug("capture stopped")
	}()

	return nil
}

// Stop terminates the capture process and waits for it to exit.
func (d *Device) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return nil // already stopped
	}

	cancel()
	d.wg.Wait()
	d.isStreaming.Store(false)
	d.buffer.Clear()
	return nil
}

// IsStreaming returns true while the capture process runs
func (d *Device) IsStreaming() bool {
	return d.isStreaming.Load()
}

// Receive copies the oldest buffered block into buf.
func (d *Device) Receive(ctx context.Context, buf []complex64, timeout time.Duration) (int, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done == nil {
		return 0, ErrStreamStopped
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if block, ok := d.buffer.Pop(); ok {
			return copy(buf, block), nil
		}

		select {
		case <-d.buffer.Ready():
		case <-done:
			// drain what the process wrote before exiting
			if block, ok := d.buffer.Pop(); ok {
				return copy(buf, block), nil
			}

			d.mu.Lock()
			err := d.streamErr
			d.mu.Unlock()

			if err != nil {
				return 0, fmt.Errorf("%w: %w", ErrStreamStopped, err)
			}
			return 0, ErrStreamStopped
		case <-timer.C:
			return 0, ErrReceiveTimeout
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// handleStdout reads raw samples, decodes them into blocks and buffers them.
func (d *Device) handleStdout(stdout io.Reader, done chan<- error) {
	bps := d.handler.BytesPerSample()
	raw := make([]byte, d.blockSize*bps)

	for {
		n, err := io.ReadFull(stdout, raw)
		if n >= bps {
			block := make([]complex64, n/bps)
			block = block[:d.handler.Decode(raw[:n], block)]
			if len(block) > 0 {
				_ = d.buffer.Insert(block)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
				errors.Is(err, fs.ErrClosed) || errors.Is(err, os.ErrClosed) {
				done <- nil
				return
			}

			done <- fmt.Errorf("%w: error reading stdout: %w", ErrBrokenPipe, err)
			return
		}
	}
}

// handleStderr reads from stderr and logs messages.
func (d *Device) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		d.logger.Debug(fmt.Sprintf("%s >> %s", d.handler.Device(), line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

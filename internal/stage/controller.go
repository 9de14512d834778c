// Package stage drives the probe positioning stage, a Duet board running
// RepRap firmware, with G-code over Telnet or a serial port.
package stage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultSafeZ          = 100  // mm, travel height after homing
	DefaultFeedrate       = 3000 // mm/min
	DefaultMoveTimeout    = 60 * time.Second
	DefaultCommandTimeout = 10 * time.Second
)

var (
	// ErrMotionTimeout is returned when M400 is not acknowledged within the move timeout
	ErrMotionTimeout = errors.New("motion did not complete in time")

	// ErrCommandRejected is returned when the firmware answers with an error
	ErrCommandRejected = errors.New("command rejected")

	// ErrDisconnected is returned when the connection is closed or lost
	ErrDisconnected = errors.New("stage disconnected")

	// ErrNoAcknowledgement is returned when a command is not acknowledged in time
	ErrNoAcknowledgement = errors.New("no acknowledgement")
)

// Axis names a stage axis.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
)

// ParseAxis converts "x", "y" or "z" into an Axis.
func ParseAxis(s string) (Axis, error) {
	switch a := Axis(strings.ToUpper(strings.TrimSpace(s))); a {
	case AxisX, AxisY, AxisZ:
		return a, nil
	default:
		return "", fmt.Errorf("unknown axis %q", s)
	}
}

// Conn is the byte stream to the firmware.
type Conn interface {
	io.ReadWriteCloser
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithSafeZ sets the travel height used after homing
func WithSafeZ(z float64) func(c *Controller) {
	return func(c *Controller) {
		c.safeZ = z
	}
}

// WithMoveTimeout bounds how long WaitForMotionComplete waits
func WithMoveTimeout(d time.Duration) func(c *Controller) {
	return func(c *Controller) {
		if d > 0 {
			c.moveTimeout = d
		}
	}
}

// WithCommandTimeout bounds how long a command waits for its acknowledgement
func WithCommandTimeout(d time.Duration) func(c *Controller) {
	return func(c *Controller) {
		if d > 0 {
			c.commandTimeout = d
		}
	}
}

// Controller sends G-code and waits for acknowledgements. Commands are
// serialised; one command is in flight at a time.
type Controller struct {
	conn  Conn
	lines chan string

	mu       sync.Mutex // serialises commands and guards pos
	pos      [3]float64
	homed    bool
	closed   bool
	readDone chan struct{}
	readErr  error

	safeZ          float64
	moveTimeout    time.Duration
	commandTimeout time.Duration

	logger *slog.Logger
}

// New wraps an established connection. Authentication, if any, must already be done.
func New(conn Conn, options ...func(c *Controller)) *Controller {
	c := Controller{
		conn:           conn,
		lines:          make(chan string, 64),
		readDone:       make(chan struct{}),
		safeZ:          DefaultSafeZ,
		moveTimeout:    DefaultMoveTimeout,
		commandTimeout: DefaultCommandTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	go c.readLines()

	return &c
}

func (c *Controller) readLines() {
	defer close(c.readDone)
	defer close(c.lines)

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.lines <- line
	}

	if err := scanner.Err(); err != nil {
		c.readErr = err
	}
}

// Send writes one command and waits for its acknowledgement using the command timeout.
func (c *Controller) Send(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.send(ctx, cmd, c.commandTimeout)
}

func (c *Controller) send(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if c.closed {
		return "", ErrDisconnected
	}

	c.drain()

	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return "", fmt.Errorf("%w: sending %q: %w", ErrDisconnected, cmd, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reply []string
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				<-c.readDone
				if c.readErr != nil {
					return "", fmt.Errorf("%w: %w", ErrDisconnected, c.readErr)
				}
				return "", ErrDisconnected
			}

			c.logger.Debug("stage reply", slog.String("cmd", cmd), slog.String("line", line))

			if strings.HasPrefix(line, "Error:") {
				return line, fmt.Errorf("%w: %s: %s", ErrCommandRejected, cmd, strings.TrimSpace(strings.TrimPrefix(line, "Error:")))
			}
			if isAck(line) {
				return strings.Join(reply, "\n"), nil
			}
			reply = append(reply, line)
		case <-timer.C:
			return "", fmt.Errorf("%w for %q within %s", ErrNoAcknowledgement, cmd, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// drain drops unsolicited lines left over from a previous command.
func (c *Controller) drain() {
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return
			}
			c.logger.Debug("stage unsolicited reply", slog.String("line", line))
		default:
			return
		}
	}
}

func isAck(line string) bool {
	l := strings.ToLower(line)
	return l == "ok" || strings.HasPrefix(l, "ok ") || strings.HasSuffix(l, " ok")
}

// Initialize powers the motors, homes all axes and raises the probe to the safe height.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("initializing stage")

	for _, cmd := range []string{"M80", "G28", "G90", fmt.Sprintf("G1 Z%.3f F%d", c.safeZ, DefaultFeedrate)} {
		timeout := c.commandTimeout
		if cmd == "G28" {
			timeout = c.moveTimeout
		}
		if _, err := c.send(ctx, cmd, timeout); err != nil {
			return fmt.Errorf("initializing stage: %w", err)
		}
	}

	c.pos = [3]float64{0, 0, c.safeZ}
	c.homed = true
	return nil
}

// Move issues an absolute linear move. It returns once the move is queued;
// use WaitForMotionComplete to wait for it to finish.
func (c *Controller) Move(ctx context.Context, x, y, z, feedrate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.send(ctx, fmt.Sprintf("G1 X%.3f Y%.3f Z%.3f F%.0f", x, y, z, feedrate), c.commandTimeout); err != nil {
		return err
	}

	c.pos = [3]float64{x, y, z}
	return nil
}

// WaitForMotionComplete blocks until all queued moves have finished.
func (c *Controller) WaitForMotionComplete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.send(ctx, "M400", c.moveTimeout)
	if errors.Is(err, ErrNoAcknowledgement) {
		return fmt.Errorf("%w: %w", ErrMotionTimeout, err)
	}
	return err
}

// Jog moves one axis relative to the current position.
func (c *Controller) Jog(ctx context.Context, axis Axis, delta float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cmd := range []string{"G91", fmt.Sprintf("G1 %s%.3f F%d", axis, delta, DefaultFeedrate), "G90"} {
		if _, err := c.send(ctx, cmd, c.commandTimeout); err != nil {
			return fmt.Errorf("jogging %s: %w", axis, err)
		}
	}

	switch axis {
	case AxisX:
		c.pos[0] += delta
	case AxisY:
		c.pos[1] += delta
	case AxisZ:
		c.pos[2] += delta
	}
	return nil
}

// Lift raises the probe by dz without moving X or Y.
func (c *Controller) Lift(ctx context.Context, dz float64) error {
	c.mu.Lock()
	z := c.pos[2] + dz
	_, err := c.send(ctx, fmt.Sprintf("G1 Z%.3f F%d", z, DefaultFeedrate), c.commandTimeout)
	if err == nil {
		c.pos[2] = z
	}
	c.mu.Unlock()

	return err
}

// Position returns the last commanded absolute position, in millimetres.
func (c *Controller) Position() (x, y, z float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos[0], c.pos[1], c.pos[2]
}

// Disconnect homes the axes, turns the motors off and closes the connection.
// A stage that was never initialized is only closed, without any motion.
// Errors from the firmware are collected; the connection is always closed.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	var errs []error
	if c.homed {
		if _, err := c.send(ctx, "G28", c.moveTimeout); err != nil {
			errs = append(errs, fmt.Errorf("homing: %w", err))
		}
		if _, err := c.send(ctx, "M84", c.commandTimeout); err != nil {
			errs = append(errs, fmt.Errorf("disabling motors: %w", err))
		}
	}

	if err := c.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close drops the connection without sending anything to the firmware.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	return c.close()
}

func (c *Controller) close() error {
	c.closed = true
	c.homed = false
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}

	c.logger.Info("stage disconnected")
	return nil
}

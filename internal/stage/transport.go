package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultTelnetPort = 23
	DefaultBaudRate   = 115200

	passwordPrompt = "Please enter your password:"
)

// ErrAuthentication is returned when the firmware refuses the Telnet password
var ErrAuthentication = errors.New("stage authentication failed")

// TelnetOptions describes a Telnet connection to the firmware.
type TelnetOptions struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"-"`
	Timeout  time.Duration `yaml:"-"` // dial and login timeout
}

// LoadPassword reads the Telnet password from a file, ignoring surrounding whitespace.
func LoadPassword(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading password file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// DialTelnet connects and logs in to the firmware Telnet server.
func DialTelnet(ctx context.Context, opts TelnetOptions, options ...func(c *Controller)) (*Controller, error) {
	if opts.Port == 0 {
		opts.Port = DefaultTelnetPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCommandTimeout
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to stage at %s: %w", addr, err)
	}

	if err = conn.SetDeadline(time.Now().Add(opts.Timeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("setting login deadline: %w", err)
	}

	if err = login(conn, opts.Password); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logging in to stage at %s: %w", addr, err)
	}

	if err = conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clearing login deadline: %w", err)
	}

	return New(conn, options...), nil
}

// login answers the password prompt. Success is a reply containing
// "log in successful" or "ok".
func login(rw io.ReadWriter, password string) error {
	greeting, err := readUntil(rw, func(s string) bool {
		return strings.Contains(s, passwordPrompt)
	})
	if err != nil {
		return fmt.Errorf("%w: waiting for password prompt: %w (received %q)", ErrAuthentication, err, greeting)
	}

	if _, err = io.WriteString(rw, password+"\n"); err != nil {
		return fmt.Errorf("sending password: %w", err)
	}

	reply, err := readUntil(rw, func(s string) bool {
		l := strings.ToLower(s)
		return strings.Contains(l, "log in successful") || strings.Contains(l, "ok") || strings.Contains(l, "invalid password")
	})
	if err != nil {
		return fmt.Errorf("%w: waiting for login reply: %w", ErrAuthentication, err)
	}
	if strings.Contains(strings.ToLower(reply), "invalid password") {
		return fmt.Errorf("%w: %s", ErrAuthentication, strings.TrimSpace(reply))
	}
	return nil
}

func readUntil(r io.Reader, match func(string) bool) (string, error) {
	var sb strings.Builder
	chunk := make([]byte, 1024)

	for {
		n, err := r.Read(chunk)
		sb.Write(chunk[:n])
		if match(sb.String()) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
	}
}

// PortOptions describes the serial connection parameters used when opening a
// serial port to the firmware.
type PortOptions struct {
	BaudRate int    `yaml:"baudRate" json:"baud_rate"`
	DataBits int    `yaml:"dataBits" json:"data_bits"`
	StopBits int    `yaml:"stopBits" json:"stop_bits"`
	Parity   string `yaml:"parity" json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens a port with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	return &mode, nil
}

// OpenSerial opens the firmware's USB serial port.
func OpenSerial(path string, opts PortOptions, options ...func(c *Controller)) (*Controller, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("serial options: %w", err)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", path, err)
	}

	return New(port, options...), nil
}

// Package monitor polls live power readings in the background.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

const (
	DefaultInterval = time.Second
	FastInterval    = 200 * time.Millisecond
)

// ErrRunning is returned when starting a monitor that is already running.
var ErrRunning = errors.New("monitor already running")

// MeasureFunc takes a single reading.
type MeasureFunc func(ctx context.Context) field.Reading

// WithLogger sets the logger for the monitor
func WithLogger(logger *slog.Logger) func(m *Monitor) {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor reads power on a fixed interval and hands each reading to a sink.
// Radio access is serialised by the measure function, so a Monitor can run
// alongside other users of the same radio session.
type Monitor struct {
	measure  MeasureFunc
	interval time.Duration

	mu      sync.Mutex // guards stopped and serialises sink calls against Stop
	stopped bool
	latest  field.Reading
	cancel  context.CancelFunc

	wg     sync.WaitGroup
	logger *slog.Logger
}

func New(measure MeasureFunc, interval time.Duration, options ...func(m *Monitor)) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := Monitor{
		measure:  measure,
		interval: interval,
		stopped:  true,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Start launches the polling goroutine. The first reading is taken immediately.
func (m *Monitor) Start(ctx context.Context, sink func(field.Reading)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stopped {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = false

	m.wg.Add(1)
	go m.run(ctx, sink)

	m.logger.Debug("monitor started", slog.Duration("interval", m.interval))
	return nil
}

func (m *Monitor) run(ctx context.Context, sink func(field.Reading)) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		r := m.measure(ctx)

		m.mu.Lock()
		if m.stopped || ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		m.latest = r
		if sink != nil {
			sink(r)
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop halts polling and waits for the goroutine to exit. The sink is never
// called once Stop has begun. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.logger.Debug("monitor stopped")
}

// Latest returns the most recent reading, Absent before the first one.
func (m *Monitor) Latest() field.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

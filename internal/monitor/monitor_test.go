package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

func TestMonitor_DeliversReadings(t *testing.T) {
	var n atomic.Int32
	m := New(func(context.Context) field.Reading {
		return field.Present(float64(-60 + n.Add(1)))
	}, 5*time.Millisecond)

	got := make(chan field.Reading, 100)
	require.NoError(t, m.Start(context.Background(), func(r field.Reading) {
		select {
		case got <- r:
		default:
		}
	}))

	first := <-got
	<-got
	m.Stop()

	v, ok := first.Value()
	require.True(t, ok)
	assert.Equal(t, -59.0, v)
	assert.True(t, m.Latest().IsPresent())
}

func TestMonitor_NoSinkAfterStop(t *testing.T) {
	var stopped atomic.Bool
	var late atomic.Int32

	m := New(func(context.Context) field.Reading {
		time.Sleep(time.Millisecond)
		return field.Present(-70)
	}, time.Millisecond)

	require.NoError(t, m.Start(context.Background(), func(field.Reading) {
		if stopped.Load() {
			late.Add(1)
		}
	}))

	time.Sleep(20 * time.Millisecond)
	m.Stop()
	stopped.Store(true)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, late.Load())
}

func TestMonitor_StartTwice(t *testing.T) {
	m := New(func(context.Context) field.Reading { return field.Absent() }, time.Hour)

	require.NoError(t, m.Start(context.Background(), nil))
	assert.ErrorIs(t, m.Start(context.Background(), nil), ErrRunning)

	m.Stop()
	m.Stop()

	require.NoError(t, m.Start(context.Background(), nil))
	m.Stop()
}

func TestMonitor_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	m := New(func(context.Context) field.Reading {
		calls.Add(1)
		return field.Absent()
	}, time.Millisecond)

	require.NoError(t, m.Start(ctx, nil))
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

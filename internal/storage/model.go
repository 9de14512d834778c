package storage

import (
	"time"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

// Run is one archived scanning run.
type Run struct {
	ID        int64
	UUID      string
	StartedAt time.Time
	BaseName  string  // Artifact base name the run was saved under
	Config    *string // Scan configuration as JSON, nil if not recorded
}

// Record is one archived measurement.
type Record struct {
	Orientation field.Orientation
	Index       int // Position in the raster order
	Measurement field.Measurement
	MeasuredAt  time.Time
}
